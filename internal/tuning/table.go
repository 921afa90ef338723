package tuning

// BuildTable maps every key 0..127 through the mapping, substituting the
// 12-TET reference frequency for keys the mapping leaves unmapped. The
// result is the full table a tuning-table broadcast sends.
func BuildTable(m KeyMapping, refHz float64) [128]float64 {
	fallback := EqualTemperament(refHz)
	var table [128]float64
	for k := 0; k < 128; k++ {
		hz, ok := m.FrequencyFor(uint8(k))
		if !ok {
			hz, _ = fallback.FrequencyFor(uint8(k))
		}
		table[k] = hz
	}
	return table
}
