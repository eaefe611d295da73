package cruncher

// Domain classifies the result of an expression node.
type Domain int

const (
	DomainBool Domain = iota
	DomainBitVector
)

// String returns the string representation of the domain.
func (d Domain) String() string {
	if d == DomainBool {
		return "bool"
	}
	return "bv"
}

// Value is one concrete evaluation result. Exactly one of the two domains is
// populated, chosen by the node that produced it.
type Value struct {
	domain Domain
	bv     BitVector
	b      bool
}

// BoolValue returns a boolean-domain value.
func BoolValue(b bool) Value {
	return Value{domain: DomainBool, b: b}
}

// BitVectorValue returns a bitvector-domain value.
func BitVectorValue(bv BitVector) Value {
	return Value{domain: DomainBitVector, bv: bv}
}

// Domain returns the domain of the value.
func (v Value) Domain() Domain { return v.domain }

// Bool returns the boolean magnitude. Panics if the value is a bitvector.
func (v Value) Bool() bool {
	assert(v.domain == DomainBool, "value: not a boolean: %s", v)
	return v.b
}

// BitVector returns the bitvector magnitude. Panics if the value is boolean.
func (v Value) BitVector() BitVector {
	assert(v.domain == DomainBitVector, "value: not a bitvector: %s", v)
	return v.bv
}

// Equal returns true if other has the same domain and magnitude.
func (v Value) Equal(other Value) bool {
	if v.domain != other.domain {
		return false
	}
	if v.domain == DomainBool {
		return v.b == other.b
	}
	return v.bv.Equal(other.bv)
}

// String returns the string representation of the value.
func (v Value) String() string {
	if v.domain == DomainBool {
		if v.b {
			return "true"
		}
		return "false"
	}
	return v.bv.String()
}
