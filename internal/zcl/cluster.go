package zcl

// Access flags
const (
	AccessRead   uint8 = 0x01
	AccessWrite  uint8 = 0x02
	AccessReport uint8 = 0x04
)

// AttributeDef defines a ZCL attribute. Manufacturer is zero for standard
// attributes.
type AttributeDef struct {
	ID           uint16 `json:"id"`
	Manufacturer uint16 `json:"manufacturer,omitempty"`
	Name         string `json:"name"`
	Type         uint8  `json:"type"`
	Access       uint8  `json:"access"` // bitmask: 1=read, 2=write, 4=reportable
}

// IsReadable returns true if the attribute can be read.
func (a *AttributeDef) IsReadable() bool {
	return a.Access&AccessRead != 0
}

// IsWritable returns true if the attribute can be written remotely.
func (a *AttributeDef) IsWritable() bool {
	return a.Access&AccessWrite != 0
}

// IsReportable returns true if the attribute supports reporting.
func (a *AttributeDef) IsReportable() bool {
	return a.Access&AccessReport != 0
}

// ClusterDef defines a server cluster of the sensor endpoint.
type ClusterDef struct {
	ID         uint16         `json:"id"`
	Name       string         `json:"name"`
	Attributes []AttributeDef `json:"attributes,omitempty"`
}

// FindAttribute looks up an attribute by manufacturer code and ID.
func (c *ClusterDef) FindAttribute(mfgCode, id uint16) *AttributeDef {
	for i := range c.Attributes {
		if c.Attributes[i].ID == id && c.Attributes[i].Manufacturer == mfgCode {
			return &c.Attributes[i]
		}
	}
	return nil
}

// DeepCopy returns a deep copy of the cluster definition.
func (c *ClusterDef) DeepCopy() *ClusterDef {
	cp := *c
	if c.Attributes != nil {
		cp.Attributes = make([]AttributeDef, len(c.Attributes))
		copy(cp.Attributes, c.Attributes)
	}
	return &cp
}

// Merge adds attributes from another definition of the same cluster, such
// as manufacturer-specific extensions.
func (c *ClusterDef) Merge(other *ClusterDef) {
	for _, attr := range other.Attributes {
		if c.FindAttribute(attr.Manufacturer, attr.ID) == nil {
			c.Attributes = append(c.Attributes, attr)
		}
	}
}
