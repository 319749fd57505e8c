package secd

// Share increments r's refcount and returns r, mirroring memory.c's
// share_cell. Pinned cells and NIL itself saturate: sharing never
// moves a pinned nref and never touches NIL (NIL carries no count).
func (h *Heap) Share(r Ref) Ref {
	if r.IsNil() || r == refOOM || r == refNilFailure || r == refFailure {
		return r
	}
	c := h.at(r)
	if c.nref != Pinned {
		c.nref++
	}
	return r
}

// Drop decrements r's refcount, freeing the cell and cascading to its
// dependencies when it reaches zero. Mirrors memory.c's drop_cell /
// free_cell / drop_dependencies.
func (h *Heap) Drop(r Ref) {
	if r.IsNil() {
		return
	}
	if r == refOOM || r == refNilFailure || r == refFailure {
		return
	}
	c := h.at(r)
	if c.nref == Pinned {
		return
	}
	c.nref--
	if c.nref > 0 {
		return
	}
	h.dropDependencies(r, c)
	h.pushFree(r)
}

// dropDependencies releases whatever a cell's fields reference before
// the cell itself returns to the free list, branching on cell type
// exactly like memory.c's drop_dependencies switch.
func (h *Heap) dropDependencies(r Ref, c *cell) {
	switch c.typ {
	case ctCons, ctFrame:
		h.Drop(c.cons.car)
		h.Drop(c.cons.cdr)

	case ctAtom:
		// atomSym/atomOp/atomNative carry no owned sub-references;
		// their backing Go string/int needs no explicit release.

	case ctArray:
		meta := c.arr.data
		if h.releaseArrayRef(meta) {
			n := h.arrMetaSize(meta)
			for i := 0; i < n; i++ {
				h.Drop(h.at(Ref(int(meta) + 1 + i)).ref)
			}
			h.freeArray(meta)
		}

	case ctStr:
		if h.releaseArrayRef(c.str.meta) {
			h.freeArray(c.str.meta)
		}

	case ctPort:
		if c.port.kind == portFile && c.port.file != nil {
			_ = c.port.file.Close()
		}
		if c.port.kind == portString {
			h.Drop(c.port.str)
		}

	case ctRef:
		h.Drop(c.ref)

	case ctError, ctUndef, ctArrMeta, ctFree:
		// no owned sub-references
	}
	*c = cell{typ: ctFree}
}
