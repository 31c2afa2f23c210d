package formula

import "libprep/api/internal/sample"

// RecomputePool writes value into field of a pool's shared values and
// re-derives the pool-scoped nM concentration chain. The input map is not
// modified.
func RecomputePool(values map[string]string, field, value string) map[string]string {
	out := make(map[string]string, len(values)+1)
	for k, v := range values {
		out[k] = v
	}
	out[field] = value

	poolConc := num(out[sample.PoolConc])
	size := num(out[sample.Size])
	if size > 0 && poolConc > 0 {
		out[sample.NMConc] = fixed2((poolConc / (size * 660)) * 1e6)
	} else {
		out[sample.NMConc] = Empty
	}

	if nm := num(out[sample.NMConc]); nm > 0 {
		out[sample.OneTenthNMConc] = fixed2(nm / 10)
	} else {
		out[sample.OneTenthNMConc] = Empty
	}

	libVol := num(out[sample.LibVolFor2nM])
	if out[sample.OneTenthNMConc] != Empty && libVol != 0 {
		out[sample.TotalVolFor2nM] = fixed2(num(out[sample.OneTenthNMConc]) * libVol / 2)
	} else {
		out[sample.TotalVolFor2nM] = Empty
	}

	if total := num(out[sample.TotalVolFor2nM]); total != 0 && libVol != 0 {
		out[sample.NFWVolFor2nM] = fixed2(total - libVol)
	} else {
		out[sample.NFWVolFor2nM] = Empty
	}
	return out
}
