package gpuload

import (
	"math"
	"testing"
)

func TestDumpDevices(t *testing.T) {
	devices := []Device{
		{
			Name: "GeForce RTX 3070",
			GPU:  true,
			Sensors: []Sensor{
				{Name: "GPU Core", Type: SensorLoad, Value: 42, Min: 0, Max: 98},
				{Name: "GPU Core", Type: SensorTemperature, Value: 66, Min: 30, Max: 81},
			},
		},
		{Name: "CPU", Sensors: []Sensor{
			{Name: "CPU Package", Type: SensorTemperature, Value: 55, Min: 40, Max: 90},
		}},
	}

	out := dumpDevices(devices)
	if len(out) != 2 {
		t.Fatalf("got %d devices, want 2", len(out))
	}
	if out[0].Name != "GeForce RTX 3070" || len(out[0].Sensors) != 2 {
		t.Fatalf("unexpected first device: %+v", out[0])
	}
	s := out[0].Sensors[0]
	if s.Type != "Load" || s.Value == nil || *s.Value != 42 || *s.Min != 0 || *s.Max != 98 {
		t.Errorf("unexpected sensor dump: %+v", s)
	}
}

func TestDumpNormalizesNonFinite(t *testing.T) {
	out := dumpDevices([]Device{{
		Name: "GPU",
		GPU:  true,
		Sensors: []Sensor{
			{Name: "GPU Core", Type: SensorLoad, Value: math.NaN(), Min: math.Inf(-1), Max: math.Inf(1)},
		},
	}})

	s := out[0].Sensors[0]
	if s.Value != nil || s.Min != nil || s.Max != nil {
		t.Errorf("non-finite values must dump as null: %+v", s)
	}
}

func TestDumpEmptyTree(t *testing.T) {
	if out := dumpDevices(nil); len(out) != 0 {
		t.Errorf("got %+v, want empty", out)
	}
}

func TestSensorTypeStrings(t *testing.T) {
	want := map[SensorType]string{
		SensorLoad:        "Load",
		SensorTemperature: "Temperature",
		SensorClock:       "Clock",
		SensorMemory:      "Memory",
		SensorFan:         "Fan",
		SensorPower:       "Power",
		SensorType(99):    "Unknown",
	}
	for typ, s := range want {
		if typ.String() != s {
			t.Errorf("SensorType(%d).String() = %q, want %q", typ, typ.String(), s)
		}
	}
}
