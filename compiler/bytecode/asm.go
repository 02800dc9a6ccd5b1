package bytecode

import (
	"strconv"
	"strings"

	"tlog.app/go/errors"
)

type (
	asmState struct {
		file string
		code *Code

		labels map[string]int
		fixups []fixup
	}

	fixup struct {
		pc    int
		label string
		line  int
	}
)

// Parse assembles a text listing into code units.
//
//	# comment
//	func add(a: int, b: int) static
//	    locals tmp
//	    LOAD_FAST a
//	    LOAD_FAST b
//	    BINARY_ADD
//	    RETURN_VALUE
//
// Labels are written as "name:" on their own line and used as branch operands.
func Parse(file string, text []byte) (codes []*Code, err error) {
	s := &asmState{file: file}

	for i, line := range strings.Split(string(text), "\n") {
		lineno := i + 1

		if p := strings.IndexByte(line, '#'); p >= 0 && !strings.Contains(line[:p], `"`) {
			line = line[:p]
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "func "):
			if s.code != nil {
				if err = s.finish(); err != nil {
					return nil, err
				}

				codes = append(codes, s.code)
			}

			s.code, err = s.header(line[len("func "):], lineno)
		case s.code == nil:
			err = errors.New("instruction outside of func")
		case strings.HasPrefix(line, "locals "):
			for _, n := range strings.Fields(line[len("locals "):]) {
				s.local(n)
			}
		case strings.HasSuffix(line, ":") && !strings.ContainsAny(line, " \t"):
			name := strings.TrimSuffix(line, ":")

			if _, ok := s.labels[name]; ok {
				err = errors.New("duplicate label %q", name)
				break
			}

			s.labels[name] = len(s.code.Instrs)
		default:
			err = s.instr(line, lineno)
		}

		if err != nil {
			return nil, errors.Wrap(err, "%v:%d", file, lineno)
		}
	}

	if s.code == nil {
		return nil, errors.New("%v: no functions", file)
	}

	if err = s.finish(); err != nil {
		return nil, err
	}

	codes = append(codes, s.code)

	return codes, nil
}

func (s *asmState) header(h string, line int) (*Code, error) {
	static := false

	if rest, ok := strings.CutSuffix(h, " static"); ok {
		h = strings.TrimSpace(rest)
		static = true
	}

	open := strings.IndexByte(h, '(')
	if open <= 0 || !strings.HasSuffix(h, ")") {
		return nil, errors.New("bad func header: %q", h)
	}

	c := &Code{
		Name:     strings.TrimSpace(h[:open]),
		Filename: s.file,
	}

	if static {
		c.Flags |= FlagStatic
	}

	s.code = c
	s.labels = map[string]int{}
	s.fixups = s.fixups[:0]

	for _, a := range strings.Split(h[open+1:len(h)-1], ",") {
		a, ann, _ := strings.Cut(a, ":")

		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}

		if idx := s.local(a); idx != c.ArgCount {
			return nil, errors.New("duplicate argument %q", a)
		}

		c.ArgCount++
		c.Annotations = append(c.Annotations, strings.TrimSpace(ann))
	}

	return c, nil
}

func (s *asmState) instr(line string, lineno int) (err error) {
	name, operand, _ := strings.Cut(line, " ")
	operand = strings.TrimSpace(operand)

	op, ok := Lookup(name)
	if !ok {
		return errors.New("unknown opcode %q", name)
	}

	c := s.code
	pc := len(c.Instrs)

	var arg int

	switch {
	case !op.HasArg():
		if operand != "" {
			return errors.New("%v takes no argument", op)
		}
	case operand == "":
		return errors.New("%v needs an argument", op)
	case op == LOAD_CONST:
		arg, err = s.constant(operand)
	case op == LOAD_FAST || op == STORE_FAST:
		arg = s.local(operand)
	case op == LOAD_GLOBAL || op == LOAD_ATTR || op == LOAD_METHOD:
		arg = s.name(operand)
	case op == COMPARE_OP:
		arg = -1

		for i, n := range CmpNames {
			if n == operand {
				arg = i
			}
		}

		if arg < 0 {
			arg, err = strconv.Atoi(operand)
		}
	case IsBranch(op):
		arg, err = strconv.Atoi(operand)
		if err != nil {
			s.fixups = append(s.fixups, fixup{pc: pc, label: operand, line: lineno})
			err = nil
		}
	default:
		arg, err = strconv.Atoi(operand)
	}

	if err != nil {
		return errors.Wrap(err, "%v operand", op)
	}

	c.Instrs = append(c.Instrs, Instr{Op: op, Arg: int32(arg)})
	c.Lines = append(c.Lines, lineno)

	return nil
}

func (s *asmState) finish() error {
	c := s.code

	for _, f := range s.fixups {
		t, ok := s.labels[f.label]
		if !ok {
			return errors.New("%v:%d: undefined label %q", s.file, f.line, f.label)
		}

		in := &c.Instrs[f.pc]

		if IsRelativeBranch(in.Op) {
			t -= f.pc + 1

			if t < 0 {
				return errors.New("%v:%d: %v: backward relative jump to %q", s.file, f.line, in.Op, f.label)
			}
		}

		in.Arg = int32(t)
	}

	if err := c.Validate(); err != nil {
		return errors.Wrap(err, "%v", s.file)
	}

	return nil
}

func (s *asmState) local(n string) int {
	if i, err := strconv.Atoi(n); err == nil {
		return i
	}

	for i, v := range s.code.VarNames {
		if v == n {
			return i
		}
	}

	s.code.VarNames = append(s.code.VarNames, n)

	return len(s.code.VarNames) - 1
}

func (s *asmState) name(n string) int {
	for i, v := range s.code.Names {
		if v == n {
			return i
		}
	}

	s.code.Names = append(s.code.Names, n)

	return len(s.code.Names) - 1
}

func (s *asmState) constant(lit string) (int, error) {
	var v Const

	switch lit {
	case "None":
		v = nil
	case "True":
		v = true
	case "False":
		v = false
	default:
		if strings.HasPrefix(lit, `"`) {
			q, err := strconv.Unquote(lit)
			if err != nil {
				return 0, err
			}

			v = q

			break
		}

		x, err := strconv.ParseInt(lit, 0, 64)
		if err != nil {
			return 0, err
		}

		v = x
	}

	for i, c := range s.code.Consts {
		if c == v {
			return i, nil
		}
	}

	s.code.Consts = append(s.code.Consts, v)

	return len(s.code.Consts) - 1, nil
}
