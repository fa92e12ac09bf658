package peg

import "github.com/mna/corevm/lang/value"

// compileTuple dispatches a tuple expression on its head symbol (spec
// §4.4's special-form table), resolving operator aliases first.
func (c *compiler) compileTuple(t value.Tuple, sc *scope) (int, error) {
	if t.Len() == 0 {
		return 0, cerrf("empty special form")
	}
	head, ok := t.Index(0).(value.Symbol)
	if !ok {
		return 0, cerrf("special form head must be a symbol, got %s", t.Index(0).Type())
	}
	name := string(head)
	if canon, ok := aliases[name]; ok {
		name = canon
	}

	elems := t.Slice()
	args := elems[1:]
	key := t.String()

	// range/set are primitive shapes like numbers and strings: they cache at
	// the compiler root so an identical set is emitted once regardless of
	// which scope references it (spec §4.4).
	if name == "range" || name == "set" {
		if idx, ok := c.primCache[key]; ok {
			return idx, nil
		}
		idx, err := c.compileForm(name, args, sc)
		if err != nil {
			return 0, err
		}
		c.primCache[key] = idx
		return idx, nil
	}

	// Other non-primitive expressions memoize per grammar scope: a tuple in
	// scope G compiles to the same rule index regardless of textual position.
	if idx, ok := sc.cache[key]; ok {
		return idx, nil
	}
	idx, err := c.compileForm(name, args, sc)
	if err != nil {
		return 0, err
	}
	sc.cache[key] = idx
	return idx, nil
}

func (c *compiler) compileForm(name string, args []value.Value, sc *scope) (int, error) {
	switch name {
	case "sequence":
		return c.emitList(OpSequence, args, sc)
	case "choice":
		return c.emitList(OpChoice, args, sc)
	case "if":
		return c.emitBinaryRule(OpIf, args, sc)
	case "if-not":
		return c.emitBinaryRule(OpIfNot, args, sc)
	case "not":
		return c.emitUnaryRule(OpNot, args, sc)
	case "look":
		return c.compileLook(args, sc)
	case "between":
		return c.compileBetween(args, sc, -1, -1, true)
	case "any":
		return c.compileBetween(args, sc, 0, -1, false)
	case "some":
		return c.compileBetween(args, sc, 1, -1, false)
	case "opt":
		return c.compileBetween(args, sc, 0, 1, false)
	case "at-least":
		return c.compileAtLeastMost(args, sc, true)
	case "at-most":
		return c.compileAtLeastMost(args, sc, false)
	case "range":
		return c.compileRange(args)
	case "set":
		return c.compileSet(args)
	case "capture":
		return c.compileTagged1(OpCapture, args, sc)
	case "group":
		return c.compileTagged1(OpGroup, args, sc)
	case "accumulate":
		return c.compileTagged1(OpAccumulate, args, sc)
	case "replace":
		return c.compileReplace(args, sc)
	case "cmt":
		return c.compileCmt(args, sc)
	case "position":
		return c.compilePosition(args)
	case "argument":
		return c.compileArgument(args)
	case "constant":
		return c.compileConstant(args)
	case "backref":
		return c.compileBackref(args)
	case "backmatch":
		return c.compileBackmatch(args)
	case "error":
		return c.emitUnaryRule(OpError, args, sc)
	case "drop":
		return c.emitUnaryRule(OpDrop, args, sc)
	}
	return 0, cerrf("unknown special form: %s", name)
}

func (c *compiler) emitList(op Op, args []value.Value, sc *scope) (int, error) {
	idxs := make([]uint32, len(args))
	for i, a := range args {
		sub, err := c.compileExpr(a, sc)
		if err != nil {
			return 0, err
		}
		idxs[i] = uint32(sub)
	}
	idx := len(c.bytecode)
	c.bytecode = append(c.bytecode, word(op, 0), uint32(len(idxs)))
	c.bytecode = append(c.bytecode, idxs...)
	return idx, nil
}

func (c *compiler) emitUnaryRule(op Op, args []value.Value, sc *scope) (int, error) {
	if len(args) != 1 {
		return 0, cerrf("%s: expected exactly 1 argument, got %d", op, len(args))
	}
	sub, err := c.compileExpr(args[0], sc)
	if err != nil {
		return 0, err
	}
	idx := len(c.bytecode)
	c.bytecode = append(c.bytecode, word(op, 0), uint32(sub))
	return idx, nil
}

func (c *compiler) emitBinaryRule(op Op, args []value.Value, sc *scope) (int, error) {
	if len(args) != 2 {
		return 0, cerrf("%s: expected exactly 2 arguments, got %d", op, len(args))
	}
	a, err := c.compileExpr(args[0], sc)
	if err != nil {
		return 0, err
	}
	b, err := c.compileExpr(args[1], sc)
	if err != nil {
		return 0, err
	}
	idx := len(c.bytecode)
	c.bytecode = append(c.bytecode, word(op, 0), uint32(a), uint32(b))
	return idx, nil
}

func (c *compiler) compileLook(args []value.Value, sc *scope) (int, error) {
	var offset int32
	var target value.Value
	switch len(args) {
	case 1:
		target = args[0]
	case 2:
		n, ok := args[0].(value.Number)
		if !ok {
			return 0, cerrf("look: offset must be a number")
		}
		iv, _ := n.Int32()
		offset = iv
		target = args[1]
	default:
		return 0, cerrf("look: expected 1 or 2 arguments, got %d", len(args))
	}
	sub, err := c.compileExpr(target, sc)
	if err != nil {
		return 0, err
	}
	idx := len(c.bytecode)
	c.bytecode = append(c.bytecode, word(OpLook, 0), uint32(offset), uint32(sub))
	return idx, nil
}

func (c *compiler) compileBetween(args []value.Value, sc *scope, lo, hi int32, explicit bool) (int, error) {
	var rule value.Value
	if explicit {
		if len(args) != 3 {
			return 0, cerrf("between: expected 3 arguments, got %d", len(args))
		}
		loN, ok1 := args[0].(value.Number)
		hiN, ok2 := args[1].(value.Number)
		if !ok1 || !ok2 {
			return 0, cerrf("between: lo/hi must be numbers")
		}
		l, _ := loN.Int32()
		h, _ := hiN.Int32()
		lo, hi = l, h
		rule = args[2]
	} else {
		if len(args) != 1 {
			return 0, cerrf("expected exactly 1 argument, got %d", len(args))
		}
		rule = args[0]
	}
	sub, err := c.compileExpr(rule, sc)
	if err != nil {
		return 0, err
	}
	idx := len(c.bytecode)
	c.bytecode = append(c.bytecode, word(OpBetween, 0), uint32(lo), uint32(hi), uint32(sub))
	return idx, nil
}

func (c *compiler) compileAtLeastMost(args []value.Value, sc *scope, atLeast bool) (int, error) {
	if len(args) != 2 {
		return 0, cerrf("expected exactly 2 arguments, got %d", len(args))
	}
	n, ok := args[0].(value.Number)
	if !ok {
		return 0, cerrf("expected a count, got %s", args[0].Type())
	}
	iv, _ := n.Int32()
	var lo, hi int32
	if atLeast {
		lo, hi = iv, -1
	} else {
		lo, hi = 0, iv
	}
	sub, err := c.compileExpr(args[1], sc)
	if err != nil {
		return 0, err
	}
	idx := len(c.bytecode)
	c.bytecode = append(c.bytecode, word(OpBetween, 0), uint32(lo), uint32(hi), uint32(sub))
	return idx, nil
}

// byteRangeSet ORs one or more inclusive byte ranges into a 256-bit mask.
func byteRangeSet(ranges []string) [32]byte {
	var mask [32]byte
	for _, r := range ranges {
		if len(r) != 2 {
			continue
		}
		lo, hi := r[0], r[1]
		for b := int(lo); b <= int(hi); b++ {
			mask[b/8] |= 1 << uint(b%8)
		}
	}
	return mask
}

func (c *compiler) compileRange(args []value.Value) (int, error) {
	if len(args) == 0 {
		return 0, cerrf("range: expected at least 1 argument")
	}
	var ranges []string
	for _, a := range args {
		s, ok := a.(value.String)
		if !ok {
			return 0, cerrf("range: argument must be a string, got %s", a.Type())
		}
		ranges = append(ranges, string(s))
	}
	idx := len(c.bytecode)
	if len(ranges) == 1 && len(ranges[0]) == 2 {
		c.bytecode = append(c.bytecode, word(OpRange, 0), uint32(ranges[0][0])<<8|uint32(ranges[0][1]))
		return idx, nil
	}
	mask := byteRangeSet(ranges)
	ci := c.addConst(value.NewBuffer(mask[:]))
	c.bytecode = append(c.bytecode, word(OpSet, 0), uint32(ci))
	return idx, nil
}

func (c *compiler) compileSet(args []value.Value) (int, error) {
	if len(args) != 1 {
		return 0, cerrf("set: expected exactly 1 argument, got %d", len(args))
	}
	s, ok := args[0].(value.String)
	if !ok {
		return 0, cerrf("set: argument must be a string, got %s", args[0].Type())
	}
	var mask [32]byte
	for i := 0; i < len(s); i++ {
		b := s[i]
		mask[b/8] |= 1 << uint(b%8)
	}
	idx := len(c.bytecode)
	ci := c.addConst(value.NewBuffer(mask[:]))
	c.bytecode = append(c.bytecode, word(OpSet, 0), uint32(ci))
	return idx, nil
}

// tagArg reads an optional trailing tag name from args, beyond wantFixed
// fixed positional arguments.
func tagArg(args []value.Value, wantFixed int) (string, error) {
	switch len(args) - wantFixed {
	case 0:
		return "", nil
	case 1:
		switch t := args[wantFixed].(type) {
		case value.Symbol:
			return string(t), nil
		case value.Keyword:
			return string(t), nil
		}
		return "", cerrf("tag must be a symbol or keyword, got %s", args[wantFixed].Type())
	}
	return "", cerrf("too many arguments")
}

func (c *compiler) compileTagged1(op Op, args []value.Value, sc *scope) (int, error) {
	if len(args) < 1 {
		return 0, cerrf("%s: expected at least 1 argument", op)
	}
	tag, err := tagArg(args, 1)
	if err != nil {
		return 0, err
	}
	sub, err := c.compileExpr(args[0], sc)
	if err != nil {
		return 0, err
	}
	idx := len(c.bytecode)
	c.bytecode = append(c.bytecode, word(op, 0), uint32(sub), uint32(c.tagOf(tag)))
	return idx, nil
}

func (c *compiler) compileReplace(args []value.Value, sc *scope) (int, error) {
	if len(args) < 2 {
		return 0, cerrf("replace: expected at least 2 arguments")
	}
	tag, err := tagArg(args, 2)
	if err != nil {
		return 0, err
	}
	sub, err := c.compileExpr(args[0], sc)
	if err != nil {
		return 0, err
	}
	ci := c.addConst(args[1])
	idx := len(c.bytecode)
	c.bytecode = append(c.bytecode, word(OpReplace, 0), uint32(sub), uint32(ci), uint32(c.tagOf(tag)))
	return idx, nil
}

func (c *compiler) compileCmt(args []value.Value, sc *scope) (int, error) {
	if len(args) < 2 {
		return 0, cerrf("cmt: expected at least 2 arguments")
	}
	tag, err := tagArg(args, 2)
	if err != nil {
		return 0, err
	}
	sub, err := c.compileExpr(args[0], sc)
	if err != nil {
		return 0, err
	}
	ci := c.addConst(args[1])
	idx := len(c.bytecode)
	c.bytecode = append(c.bytecode, word(OpCmt, 0), uint32(sub), uint32(ci), uint32(c.tagOf(tag)))
	return idx, nil
}

func (c *compiler) compilePosition(args []value.Value) (int, error) {
	tag, err := tagArg(args, 0)
	if err != nil {
		return 0, err
	}
	idx := len(c.bytecode)
	c.bytecode = append(c.bytecode, word(OpPosition, 0), uint32(c.tagOf(tag)))
	return idx, nil
}

func (c *compiler) compileArgument(args []value.Value) (int, error) {
	if len(args) < 1 {
		return 0, cerrf("argument: expected at least 1 argument")
	}
	n, ok := args[0].(value.Number)
	if !ok {
		return 0, cerrf("argument: index must be a number, got %s", args[0].Type())
	}
	tag, err := tagArg(args, 1)
	if err != nil {
		return 0, err
	}
	iv, _ := n.Int32()
	idx := len(c.bytecode)
	c.bytecode = append(c.bytecode, word(OpArgument, 0), uint32(iv), uint32(c.tagOf(tag)))
	return idx, nil
}

func (c *compiler) compileConstant(args []value.Value) (int, error) {
	if len(args) < 1 {
		return 0, cerrf("constant: expected at least 1 argument")
	}
	tag, err := tagArg(args, 1)
	if err != nil {
		return 0, err
	}
	ci := c.addConst(args[0])
	idx := len(c.bytecode)
	c.bytecode = append(c.bytecode, word(OpConstant, 0), uint32(ci), uint32(c.tagOf(tag)))
	return idx, nil
}

func tagName(v value.Value) (string, error) {
	switch t := v.(type) {
	case value.Symbol:
		return string(t), nil
	case value.Keyword:
		return string(t), nil
	}
	return "", cerrf("tag must be a symbol or keyword, got %s", v.Type())
}

func (c *compiler) compileBackref(args []value.Value) (int, error) {
	if len(args) < 1 || len(args) > 2 {
		return 0, cerrf("backref: expected 1 or 2 arguments, got %d", len(args))
	}
	tag, err := tagName(args[0])
	if err != nil {
		return 0, err
	}
	var search uint8
	if len(args) == 2 {
		sname, err := tagName(args[1])
		if err != nil {
			return 0, err
		}
		search = c.tagOf(sname)
	}
	idx := len(c.bytecode)
	c.bytecode = append(c.bytecode, word(OpBackref, 0), uint32(c.tagOf(tag)), uint32(search))
	return idx, nil
}

func (c *compiler) compileBackmatch(args []value.Value) (int, error) {
	if len(args) != 1 {
		return 0, cerrf("backmatch: expected exactly 1 argument, got %d", len(args))
	}
	tag, err := tagName(args[0])
	if err != nil {
		return 0, err
	}
	idx := len(c.bytecode)
	c.bytecode = append(c.bytecode, word(OpBackmatch, 0), uint32(c.tagOf(tag)))
	return idx, nil
}
