package mirror

import "strconv"

// Family identifies one of the signature database categories
// distributed by the upstream network.
type Family int

const (
	FamilyMain Family = iota
	FamilyDaily
	FamilyBytecode
	FamilySafebrowsing
)

// Families lists all families in processing order.
var Families = []Family{FamilyMain, FamilyDaily, FamilyBytecode, FamilySafebrowsing}

func (f Family) String() string {
	switch f {
	case FamilyMain:
		return "main"
	case FamilyDaily:
		return "daily"
	case FamilyBytecode:
		return "bytecode"
	case FamilySafebrowsing:
		return "safebrowsing"
	}
	return "unknown"
}

// SnapshotName returns the file name of the full database for f.
func (f Family) SnapshotName() string {
	return f.String() + ".cvd"
}

// DeltaName returns the file name of the incremental diff that
// advances f from version-1 to version.
func (f Family) DeltaName(version int) string {
	return f.String() + "-" + strconv.Itoa(version) + ".cdiff"
}

// HasDeltas reports whether incremental diffs are published for f.
// The main database is only ever shipped whole.
func (f Family) HasDeltas() bool {
	return f != FamilyMain
}
