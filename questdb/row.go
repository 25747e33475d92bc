package questdb

import (
	"github.com/squadracorsepolito/seda/can"
)

type ColumnType int

const (
	ColumnTypeBool ColumnType = iota
	ColumnTypeInt
	ColumnTypeFloat
	ColumnTypeString
)

// Column is a typed field of a row.
type Column struct {
	Name  string
	Type  ColumnType
	Value any
}

func newColumn(name string, typ ColumnType, value any) *Column {
	return &Column{
		Name:  name,
		Type:  typ,
		Value: value,
	}
}

func NewBoolColumn(name string, value bool) *Column {
	return newColumn(name, ColumnTypeBool, value)
}

func NewIntColumn(name string, value int64) *Column {
	return newColumn(name, ColumnTypeInt, value)
}

func NewFloatColumn(name string, value float64) *Column {
	return newColumn(name, ColumnTypeFloat, value)
}

func NewStringColumn(name string, value string) *Column {
	return newColumn(name, ColumnTypeString, value)
}

// Symbol is an indexed string field of a row.
type Symbol struct {
	Name  string
	Value string
}

func NewSymbol(name string, value string) *Symbol {
	return &Symbol{
		Name:  name,
		Value: value,
	}
}

// Row is a line of a table. Symbols are written before columns.
type Row struct {
	Table   string
	Symbols []*Symbol
	Columns []*Column
}

func NewRow(table string) *Row {
	return &Row{
		Table: table,
	}
}

func (r *Row) AddSymbol(symbol *Symbol) {
	if symbol != nil {
		r.Symbols = append(r.Symbols, symbol)
	}
}

func (r *Row) AddColumns(columns ...*Column) {
	for _, col := range columns {
		if col != nil {
			r.Columns = append(r.Columns, col)
		}
	}
}

// SignalTable returns the table storing the signals of the given type.
func SignalTable(valType can.ValueType) string {
	switch valType {
	case can.ValueTypeFlag:
		return "flag_signals"
	case can.ValueTypeInt:
		return "int_signals"
	case can.ValueTypeFloat:
		return "float_signals"
	case can.ValueTypeEnum:
		return "enum_signals"
	default:
		return "unknown_signals"
	}
}

// SignalRows maps every signal of the batch to a row of its table.
func SignalRows(batch *can.SignalBatch) []*Row {
	rows := make([]*Row, 0, len(batch.Signals))

	for _, sig := range batch.Signals {
		row := NewRow(SignalTable(sig.Type))

		row.AddSymbol(NewSymbol("name", sig.Name))

		row.AddColumns(
			NewIntColumn("can_id", int64(sig.CANID)),
			NewIntColumn("raw_value", sig.RawValue),
		)

		switch sig.Type {
		case can.ValueTypeFlag:
			row.AddColumns(NewBoolColumn("flag_value", sig.ValueFlag))

		case can.ValueTypeInt:
			row.AddColumns(NewIntColumn("integer_value", sig.ValueInt))

		case can.ValueTypeFloat:
			row.AddColumns(NewFloatColumn("float_value", sig.ValueFloat))

		case can.ValueTypeEnum:
			row.AddSymbol(NewSymbol("enum_value", sig.ValueEnum))
		}

		rows = append(rows, row)
	}

	return rows
}
