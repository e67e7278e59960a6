package catalog

// Container kind identifiers of the default catalog.
const (
	KindRoom        = "room"
	KindFreezer     = "freezer"
	KindFreezerRack = "freezer rack 4x6"
	KindDrawer      = "drawer"
	KindBox         = "box"
	KindTubeBox     = "tube box 9x9"
	KindTubeRack    = "tube rack 8x12"
	KindPlate96     = "96-well plate"
	KindPlate384    = "384-well plate"
	KindTube        = "tube"
)

// SampleKindNames lists the default sample kinds, in the order their
// identifiers were historically assigned.
var SampleKindNames = []string{"DNA", "RNA", "BLOOD", "CELLS", "EXPECTORATION", "GARGLE", "PLASMA", "SALIVA", "SWAB"}

var moleculeCURIEs = map[string]string{
	"DNA": "SO:0000352",
	"RNA": "SO:0000356",
}

// DefaultContainerKinds returns the built-in container kinds.
func DefaultContainerKinds() []ContainerKind {
	labware := []string{KindTubeBox, KindTubeRack, KindPlate96, KindPlate384}
	return []ContainerKind{
		{ID: KindRoom, Coordinates: UnboundedSlot(), Children: []string{KindFreezer, KindDrawer}},
		{ID: KindFreezer, Coordinates: UnboundedSlot(), Children: append([]string{KindFreezerRack, KindDrawer, KindBox}, labware...)},
		{ID: KindFreezerRack, Coordinates: Grid(4, 6, 2), Children: append([]string{KindBox}, labware...)},
		{ID: KindDrawer, Coordinates: UnboundedSlot(), Children: append([]string{KindBox, KindTube}, labware...)},
		{ID: KindBox, Coordinates: UnboundedSlot(), Children: []string{KindTube}},
		{ID: KindTubeBox, Coordinates: Grid(9, 9, 2), Children: []string{KindTube}, HoldsSamples: true},
		{ID: KindTubeRack, Coordinates: Grid(8, 12, 2), Children: []string{KindTube}},
		{ID: KindPlate96, Coordinates: Grid(8, 12, 2), HoldsSamples: true},
		{ID: KindPlate384, Coordinates: Grid(16, 24, 2), HoldsSamples: true},
		{ID: KindTube, Coordinates: SingleSlot(), HoldsSamples: true},
	}
}

// DefaultSampleKinds returns the built-in sample kinds.
func DefaultSampleKinds() []SampleKind {
	out := make([]SampleKind, 0, len(SampleKindNames))
	for _, name := range SampleKindNames {
		out = append(out, SampleKind{Name: name, MoleculeOntologyCURIE: moleculeCURIEs[name]})
	}
	return out
}

// Default builds the built-in catalog.
func Default() *Catalog {
	c, err := New(DefaultContainerKinds(), DefaultSampleKinds())
	if err != nil {
		panic("catalog: invalid default catalog: " + err.Error())
	}
	return c
}
