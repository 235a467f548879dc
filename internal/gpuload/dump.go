package gpuload

type SensorDump struct {
	Name  string   `json:"name"`
	Type  string   `json:"type"`
	Value *float64 `json:"value"`
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
}

type DeviceDump struct {
	Name    string       `json:"name"`
	Sensors []SensorDump `json:"sensors"`
}

// dumpDevices converts the sensor tree for the inspection endpoint.
// Non-finite readings become null instead of breaking JSON encoding.
func dumpDevices(devices []Device) []DeviceDump {
	out := make([]DeviceDump, 0, len(devices))
	for _, d := range devices {
		dd := DeviceDump{
			Name:    d.Name,
			Sensors: make([]SensorDump, 0, len(d.Sensors)),
		}
		for _, s := range d.Sensors {
			dd.Sensors = append(dd.Sensors, SensorDump{
				Name:  s.Name,
				Type:  s.Type.String(),
				Value: finitePtr(s.Value),
				Min:   finitePtr(s.Min),
				Max:   finitePtr(s.Max),
			})
		}
		out = append(out, dd)
	}
	return out
}

func finitePtr(v float64) *float64 {
	if !isFiniteFloat(v) {
		return nil
	}
	out := v
	return &out
}
