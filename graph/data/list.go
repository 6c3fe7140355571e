package data

// List is an ordered sequence of payloads. Each element keeps its own
// discriminator on the wire, so a list may mix types and nest other lists
// or records.
type List struct {
	Base
	Items []Payload
}

// NewList returns a List holding items.
func NewList(items ...Payload) *List {
	return &List{Items: items}
}

func (p *List) ClassName() string { return ClassList }
func (p *List) Kind() Kind        { return KindList }

// Len returns the number of items.
func (p *List) Len() int {
	return len(p.Items)
}

// Append adds items to the end of the list.
func (p *List) Append(items ...Payload) {
	p.Items = append(p.Items, items...)
}
