// Package sample describes the laboratory sample row tracked by the
// library-preparation grid: the fixed field universe, its labels, and the
// field classes the grid treats specially.
package sample

// Field is one recognised row key with its display label.
type Field struct {
	Key   string
	Label string
}

// Keys referenced by the formula engine, the pool aggregator and the
// column projector.
const (
	SNo        = "sno"
	Select     = "select"
	SampleID   = "sample_id"
	TestName   = "test_name"
	PoolNo     = "pool_no"
	Internal   = "internal_id"
	Patient    = "patient_name"
	Type       = "sample_type"
	Hospital   = "hospital_name"
	Registered = "registration_date"

	LibQubit       = "lib_qubit"
	Size           = "size"
	NMConc         = "nm_conc"
	LibVolFor2nM   = "lib_vol_for_2nm"
	NFWVolFor2nM   = "nfw_volu_for_2nm"
	TotalVolFor2nM = "total_vol_for_2nm"
	QubitDNA       = "qubit_dna"
	PerRxnGDNA     = "per_rxn_gdna"
	Volume         = "volume"
	GDNAVolume3x   = "gdna_volume_3x"
	NFW            = "nfw"
	QubitLibQC     = "qubit_lib_qc_ng_ul"
	StockNgUl      = "stock_ng_ul"
	LibVolForHyb   = "lib_vol_for_hyb"
	PoolingVolume  = "pooling_volume"
	PoolConc       = "pool_conc"
	OneTenthNMConc = "one_tenth_of_nm_conc"
	DataRequired   = "data_required"
)

var catalog = []Field{
	{SNo, "S. No."},
	{Select, ""},
	{Hospital, "Hospital Name"},
	{"vial_received", "Vial Received"},
	{"specimen_quality", "Specimen Quality"},
	{Registered, "Registration Date"},
	{Internal, "Internal ID"},
	{"sample_date", "Sample Date"},
	{Type, "Sample Type"},
	{"trf", "TRF"},
	{"collection_date_time", "Collection Date Time"},
	{"storage_condition", "Storage Condition"},
	{"prority", "Prority"},
	{"hospital_id", "Hospital ID"},
	{"client_id", "Client ID"},
	{"client_name", "Client Name"},
	{SampleID, "Sample ID"},
	{Patient, "Patient Name"},
	{"DOB", "DOB"},
	{"age", "Age"},
	{"sex", "Sex"},
	{"ethnicity", "Ethnicity"},
	{"father_husband_name", "Father/Husband Name"},
	{"address", "Address"},
	{"city", "City"},
	{"state", "State"},
	{"country", "Country"},
	{"patient_mobile", "Patient's Mobile"},
	{"docter_mobile", "Doctor's Mobile"},
	{"docter_name", "Doctor Name"},
	{"email", "Email"},
	{TestName, "Test Name"},
	{"remarks", "Remarks"},
	{"clinical_history", "Clinical History"},
	{"repeat_required", "Repeat Required"},
	{"repeat_reason", "Repeat Reason"},
	{"repeat_date", "Repeat Date"},
	{"selectedTestName", "Selected Test Name"},
	{"systolic_bp", "Systolic BP"},
	{"diastolic_bp", "Diastolic BP"},
	{"total_cholesterol", "Total Cholesterol"},
	{"hdl_cholesterol", "HDL Cholesterol"},
	{"ldl_cholesterol", "LDL Cholesterol"},
	{"diabetes", "Diabetes"},
	{"smoker", "Smoker"},
	{"hypertension_treatment", "Hypertension Treatment"},
	{"statin", "Statin"},
	{"aspirin_therapy", "Aspirin Therapy"},
	{"dna_isolation", "DNA Isolation"},
	{"lib_prep", "Library Prep"},
	{"under_seq", "Under Sequencing"},
	{"seq_completed", "Sequencing Completed"},
	{"conc_rxn", "conc/rxn (ng/rxn)"},
	{"barcode", "Barcode"},
	{"i5_index_reverse", "i5 (reverse)"},
	{"i5_index_forward", "i5 (forward)"},
	{"i7_index", "i7 index"},
	{Size, "Size (bp)"},
	{LibQubit, "Lib Qubit ng/ml"},
	{NMConc, "nM conc"},
	{LibVolFor2nM, "Library Volume for 2nM from 1/10 of nM"},
	{NFWVolFor2nM, "NFW Volume For 2nM"},
	{TotalVolFor2nM, "Total Volume For 2nM"},
	{QubitDNA, "Qubit DNA (ng/ul)"},
	{PerRxnGDNA, "Per Rxn gDNA (ng/rxn)"},
	{Volume, "Volume (ul)"},
	{GDNAVolume3x, "gDNA Volume (ul) (3X)"},
	{NFW, "NFW (ul) (3x)"},
	{"plate_designation", "Plate Designation"},
	{"well", "Well No./Barcode"},
	{QubitLibQC, "Library Qubit (ng/ul)"},
	{StockNgUl, "Stock (ng/ul)"},
	{LibVolForHyb, "Library Volume for Hyb (ul)"},
	{"sample_volume", "Sample Volume (ul)"},
	{PoolingVolume, "Pooling Volume (ul)"},
	{PoolConc, "Pooled Library Conc. (ng/ul)"},
	{OneTenthNMConc, "1/10th of nM Conc"},
	{DataRequired, "Data Required(GB)"},
	{PoolNo, "Pool No."},
}

var labels = func() map[string]string {
	m := make(map[string]string, len(catalog))
	for _, f := range catalog {
		m[f.Key] = f.Label
	}
	return m
}()

// PoolOwned lists the fields edited once per pool and fanned out to every
// member row, in display order.
var PoolOwned = []string{
	PoolConc,
	Size,
	NMConc,
	OneTenthNMConc,
	TotalVolFor2nM,
	LibVolFor2nM,
	NFWVolFor2nM,
}

// Identity lists the read-only fields that identify a row.
var Identity = []string{SNo, Select, SampleID, TestName, Patient, Type, PoolNo, Internal}

var (
	poolOwnedSet = toSet(PoolOwned)
	identitySet  = toSet(Identity)
)

// Fields returns the catalog in its canonical order.
func Fields() []Field {
	out := make([]Field, len(catalog))
	copy(out, catalog)
	return out
}

// Known reports whether key is part of the field universe.
func Known(key string) bool {
	_, ok := labels[key]
	return ok
}

// Label returns the display label for key, or the key itself when unknown.
func Label(key string) string {
	if label, ok := labels[key]; ok {
		return label
	}
	return key
}

func IsPoolOwned(key string) bool {
	_, ok := poolOwnedSet[key]
	return ok
}

func IsIdentity(key string) bool {
	_, ok := identitySet[key]
	return ok
}

// Editable reports whether a cell of this field may be written by the row
// editor. Pool-owned fields are written only through their pool.
func Editable(key string) bool {
	return Known(key) && !IsIdentity(key) && !IsPoolOwned(key)
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}
