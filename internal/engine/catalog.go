package engine

import "fieldwork/internal/domain"

// Catalog resolves template ids for the engine. Implementations must be
// in-memory: the engine never blocks on I/O.
type Catalog interface {
	InputTemplate(id int64) (*domain.InputTemplate, bool)
	FieldTemplate(id int64) (*domain.FieldTemplate, bool)
	FnTemplate(id int64) (*domain.FnTemplate, bool)
}

// Index is a Catalog built from task templates plus loose input templates.
type Index struct {
	inputs map[int64]*domain.InputTemplate
	fields map[int64]*domain.FieldTemplate
	fns    map[int64]*domain.FnTemplate
}

func NewIndex(tpls ...*domain.TaskTemplate) *Index {
	x := &Index{
		inputs: map[int64]*domain.InputTemplate{},
		fields: map[int64]*domain.FieldTemplate{},
		fns:    map[int64]*domain.FnTemplate{},
	}
	for _, tpl := range tpls {
		x.AddTemplate(tpl)
	}
	return x
}

func (x *Index) AddTemplate(tpl *domain.TaskTemplate) {
	if tpl == nil {
		return
	}
	for _, fn := range tpl.Fns {
		x.fns[fn.ID] = fn
		for _, f := range fn.Fields {
			x.fields[f.ID] = f
		}
	}
	tpl.WalkInputs(func(in *domain.InputTemplate) bool {
		x.inputs[in.ID] = in
		return true
	})
}

func (x *Index) AddInput(in *domain.InputTemplate) {
	if in != nil {
		x.inputs[in.ID] = in
	}
}

func (x *Index) InputTemplate(id int64) (*domain.InputTemplate, bool) {
	in, ok := x.inputs[id]
	return in, ok
}

func (x *Index) FieldTemplate(id int64) (*domain.FieldTemplate, bool) {
	f, ok := x.fields[id]
	return f, ok
}

func (x *Index) FnTemplate(id int64) (*domain.FnTemplate, bool) {
	fn, ok := x.fns[id]
	return fn, ok
}
