package packet

// Object is a whole packet dump suitable for JSON or YAML encoding.
type Object struct {
	Iface     Interface     `json:"iface" yaml:"iface" mapstructure:"iface"`
	Timestamp Timestamp     `json:"timestamp" yaml:"timestamp" mapstructure:"timestamp"`
	Comment   string        `json:"comment,omitempty" yaml:"comment,omitempty" mapstructure:"comment"`
	OrigLen   int           `json:"origLength,omitempty" yaml:"origLength,omitempty" mapstructure:"origLength"`
	Layers    []LayerObject `json:"layers" yaml:"layers" mapstructure:"layers"`
}

// LayerObject is the dump of a single layer. Fields holds the Fields type of
// the layer's protocol package.
type LayerObject struct {
	Name   string `json:"name" yaml:"name" mapstructure:"name"`
	OSI    int    `json:"osi" yaml:"osi" mapstructure:"osi"`
	Fields any    `json:"fields" yaml:"fields" mapstructure:"fields"`
}

// Object returns the packet metadata and the fields of every layer. Field
// slices alias the packet buffer.
func (p *Packet) Object() (Object, error) {
	layers, err := p.Layers()
	obj := Object{
		Iface:     p.Iface,
		Timestamp: p.Timestamp,
		Comment:   p.Comment,
		OrigLen:   p.OrigLen,
		Layers:    make([]LayerObject, len(layers)),
	}
	for i, l := range layers {
		obj.Layers[i] = l.Object()
	}
	return obj, err
}

// Object returns the layer dump.
func (l Layer) Object() LayerObject {
	return LayerObject{Name: l.Name(), OSI: l.OSI(), Fields: l.Fields()}
}
