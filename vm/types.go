package vm

import "strconv"

// Type is the dynamic type tag of a heap cell. The numeric values follow
// the interpreter's own type codes.
type Type uint8

const (
	NilType         Type = 0
	SymbolType      Type = 1
	PairlistType    Type = 2
	ClosureType     Type = 3
	EnvironmentType Type = 4
	PromiseType     Type = 5
	LanguageType    Type = 6
	SpecialType     Type = 7
	BuiltinType     Type = 8
	CharType        Type = 9
	LogicalType     Type = 10
	IntegerType     Type = 13
	RealType        Type = 14
	StringType      Type = 16
	ListType        Type = 19
	ExpressionType  Type = 20
	RawType         Type = 24

	// FreeType marks a cell reclaimed by the collector.
	FreeType Type = 31
)

var typeNames = map[Type]string{
	NilType:         "NULL",
	SymbolType:      "symbol",
	PairlistType:    "pairlist",
	ClosureType:     "closure",
	EnvironmentType: "environment",
	PromiseType:     "promise",
	LanguageType:    "language",
	SpecialType:     "special",
	BuiltinType:     "builtin",
	CharType:        "char",
	LogicalType:     "logical",
	IntegerType:     "integer",
	RealType:        "double",
	StringType:      "character",
	ListType:        "list",
	ExpressionType:  "expression",
	RawType:         "raw",
	FreeType:        "free",
}

// String returns the interpreter's name for the type.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "type(" + strconv.Itoa(int(t)) + ")"
}

// IsVector reports whether cells of this type store their elements inline.
func (t Type) IsVector() bool {
	switch t {
	case CharType, LogicalType, IntegerType, RealType, StringType, ListType, ExpressionType, RawType:
		return true
	}
	return false
}

// IsPairBased reports whether cells of this type use car/cdr/tag as a cons cell.
func (t Type) IsPairBased() bool {
	return t == PairlistType || t == LanguageType
}
