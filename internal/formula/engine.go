// Package formula holds the fixed dependency rules that recompute derived
// library-preparation measurements when a field of a sample row changes.
//
// The rules are pure functions over sample.Row. They never fail: anything
// that does not parse as a number is treated as zero, and a derived value
// whose precondition is not met is stored as Empty.
package formula

import (
	"math"

	"libprep/api/internal/sample"
)

// Recompute writes value into field and applies every dependency rule
// triggered by that change, in their fixed order. Each rule sees the
// values written by the rules before it. The input row is not modified.
func Recompute(row sample.Row, field, value string) sample.Row {
	r := row.With(field, value)

	// The 2nM dilution rule owns total_vol_for_2nm when it fires; nothing
	// after it may overwrite the value the user just typed.
	if field == sample.LibQubit || field == sample.TotalVolFor2nM {
		applyLibraryDilution(r)
		return r
	}

	if field == sample.PoolConc || field == sample.Size {
		applyPoolMolarity(r)
	}
	if q := r.Float(sample.QubitLibQC); q != 0 {
		r[sample.LibVolForHyb] = fixed2(200 / q)
	}
	if field == sample.Size {
		applyOneTenth(r)
	}
	if r.Float(sample.QubitDNA) != 0 || r.Float(sample.PerRxnGDNA) != 0 {
		applyGDNAVolume(r)
	}
	if field == sample.Volume || field == sample.GDNAVolume3x {
		applyNFW(r)
	}
	if field == sample.QubitLibQC {
		applyStock(r)
	}
	if field == sample.StockNgUl {
		r[sample.StockNgUl] = number(num(value))
	}
	if field == sample.QubitLibQC {
		applyPoolingVolume(r)
	}
	if field == sample.PoolConc || field == sample.Size {
		applyOneTenth(r)
	}
	if field == sample.OneTenthNMConc || field == sample.LibVolFor2nM {
		applyTotalVolume(r)
	}
	return r
}

// Triggers reports whether editing field fires at least one rule that is
// keyed on the edited field itself.
func Triggers(field string) bool {
	switch field {
	case sample.LibQubit, sample.TotalVolFor2nM, sample.PoolConc, sample.Size,
		sample.Volume, sample.GDNAVolume3x, sample.QubitLibQC, sample.StockNgUl,
		sample.OneTenthNMConc, sample.LibVolFor2nM:
		return true
	}
	return false
}

// applyLibraryDilution derives the nM concentration from the library qubit
// reading and splits the 2nM total volume into library and water.
func applyLibraryDilution(r sample.Row) {
	libQubit := r.Float(sample.LibQubit)
	size := r.Float(sample.Size)

	nm := 0.0
	if libQubit > 0 && size > 0 {
		nm = (libQubit / (size * 660)) * 1000
	}
	r[sample.NMConc] = number(round2(nm))

	total := r.Float(sample.TotalVolFor2nM)
	if nm > 0 && total > 0 {
		libVol := round2((3 * total) / nm)
		if libVol > total {
			libVol = total
		}
		r[sample.LibVolFor2nM] = number(libVol)
		r[sample.NFWVolFor2nM] = number(round2(total - libVol))
		return
	}
	r[sample.LibVolFor2nM] = number(0)
	r[sample.NFWVolFor2nM] = number(total)
}

func applyPoolMolarity(r sample.Row) {
	size := r.Float(sample.Size)
	if size <= 0 {
		r[sample.NMConc] = Empty
		return
	}
	r[sample.NMConc] = fixed2((r.Float(sample.PoolConc) / (size * 660)) * 1e6)
}

func applyOneTenth(r sample.Row) {
	nm := r.Float(sample.NMConc)
	if nm <= 0 {
		r[sample.OneTenthNMConc] = Empty
		return
	}
	r[sample.OneTenthNMConc] = number(round2(nm / 10))
}

func applyGDNAVolume(r sample.Row) {
	qubit := r.Float(sample.QubitDNA)
	if qubit <= 0 {
		r[sample.GDNAVolume3x] = Empty
		return
	}
	r[sample.GDNAVolume3x] = number(math.Ceil((r.Float(sample.PerRxnGDNA) / qubit) * 3))
}

func applyNFW(r sample.Row) {
	volume := r.Float(sample.Volume)
	if volume <= 0 {
		r[sample.NFW] = Empty
		return
	}
	r[sample.NFW] = number(volume - r.Float(sample.GDNAVolume3x))
}

func applyStock(r sample.Row) {
	q := r.Float(sample.QubitLibQC)
	if q <= 0 {
		r[sample.StockNgUl] = Empty
	} else {
		r[sample.StockNgUl] = number(q * 10)
	}
	if q == 0 {
		r[sample.LibVolForHyb] = Empty
		return
	}
	r[sample.LibVolForHyb] = fixed2(200 / q)
}

func applyPoolingVolume(r sample.Row) {
	q := r.Float(sample.QubitLibQC)
	if q <= 0 {
		r[sample.PoolingVolume] = Empty
		return
	}
	r[sample.PoolingVolume] = fixed2(200 / q)
}

func applyTotalVolume(r sample.Row) {
	oneTenth := r.Float(sample.OneTenthNMConc)
	libVol := r.Float(sample.LibVolFor2nM)
	if oneTenth > 0 {
		r[sample.TotalVolFor2nM] = fixed2(oneTenth * libVol / 2)
	} else {
		r[sample.TotalVolFor2nM] = Empty
	}
	total := r.Float(sample.TotalVolFor2nM)
	if total <= 0 {
		r[sample.NFWVolFor2nM] = Empty
		return
	}
	r[sample.NFWVolFor2nM] = fixed2(total - libVol)
}
