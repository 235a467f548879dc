package http

import (
	"html/template"
	"net/http"
)

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>gpusense</title>
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
            background: #1e1e1e;
            color: #e0e0e0;
            padding: 24px;
        }
        .container { max-width: 600px; margin: 0 auto; }
        .gauge {
            background: #2d2d2d;
            margin-bottom: 16px;
            border-radius: 4px;
            border: 1px solid #3a3a3a;
            padding: 18px 20px;
        }
        .gauge .label { color: #888; font-size: 14px; margin-bottom: 8px; }
        .gauge .value { font-size: 32px; }
        .bar { height: 6px; background: #1e1e1e; border-radius: 3px; margin-top: 12px; }
        .bar .fill { height: 100%; background: #6a9fe5; border-radius: 3px; width: 0; transition: width .4s; }
        .note { color: #888; font-size: 13px; margin-top: 16px; }
        a { color: #6a9fe5; }
    </style>
</head>
<body>
    <div class="container">
        <div class="gauge">
            <div class="label">GPU</div>
            <div class="value" id="gpuValue">&ndash;</div>
            <div class="bar"><div class="fill" id="gpuBar"></div></div>
        </div>
        <div class="gauge">
            <div class="label">CPU</div>
            <div class="value" id="cpuValue">&ndash;</div>
            <div class="bar"><div class="fill" id="cpuBar"></div></div>
        </div>
        <div class="note">sensor details: <a href="/api/sensors">/api/sensors</a></div>
    </div>
    <script>
        async function poll() {
            try {
                const res = await fetch('/api/load?shm=1');
                const data = await res.json();
                document.getElementById('gpuValue').textContent = data.gpuLoad.toFixed(1) + '%';
                document.getElementById('cpuValue').textContent = data.cpuLoad.toFixed(1) + '%';
                document.getElementById('gpuBar').style.width = data.gpuLoad + '%';
                document.getElementById('cpuBar').style.width = data.cpuLoad + '%';
            } catch (e) {}
        }
        poll();
        setInterval(poll, 1000);
    </script>
</body>
</html>`

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

func (s *Server) AddIndexRoute() {
	s.r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		indexTmpl.Execute(w, nil)
	})
}
