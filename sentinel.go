package surveyeda

// ReplaceSentinels marks as missing every value equal to one of
// codes.  If cols is empty every float64 column is scanned, otherwise
// only the named ones.  The number of replaced cells is returned.
// Text and date columns are never changed.
func ReplaceSentinels(t *Table, codes []float64, cols []string) int {

	if t == nil || len(codes) == 0 {
		return 0
	}

	set := make(map[float64]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}

	targets := t.Columns()
	if len(cols) > 0 {
		targets = targets[:0:0]
		for _, na := range cols {
			if c := t.Column(na); c != nil {
				targets = append(targets, c)
			}
		}
	}

	n := 0
	for _, c := range targets {
		x, ok := c.Data().([]float64)
		if !ok {
			continue
		}
		for i, v := range x {
			if c.IsMissing(i) {
				continue
			}
			if _, hit := set[v]; hit {
				c.SetMissing(i)
				n++
			}
		}
	}

	return n
}
