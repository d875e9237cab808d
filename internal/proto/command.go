package proto

// Kind identifies which verb a Command carries.
type Kind int

const (
	KindInvalid Kind = iota
	CmdPut
	CmdUse
	CmdReserve
	CmdReserveWithTimeout
	CmdReserveJob
	CmdDelete
	CmdRelease
	CmdBury
	CmdTouch
	CmdWatch
	CmdIgnore
	CmdPeek
	CmdPeekReady
	CmdPeekDelayed
	CmdPeekBuried
	CmdKick
	CmdKickJob
	CmdStatsJob
	CmdStatsTube
	CmdStats
	CmdListTubes
	CmdListTubeUsed
	CmdListTubesWatched
	CmdQuit
	CmdPauseTube
)

// Command is the parsed, typed form of one command line. Only the
// fields relevant to Kind are populated; the rest are left zero.
type Command struct {
	Kind    Kind
	Tube    string
	ID      uint64
	Pri     uint32
	Delay   uint32
	TTR     uint32
	Bound   uint32
	Seconds uint32
	Body    []byte
}

// Parse converts a token sequence (as produced by Decoder.ReadCommand)
// into a Command. Any grammar mismatch, including leftover tokens
// after the expected shape, is reported as ErrBadFormat.
func Parse(tokens []Token) (Command, error) {
	if len(tokens) == 0 || tokens[0].Kind != KindName {
		return Command{}, ErrBadFormat
	}
	verb := tokens[0].Name
	args := tokens[1:]

	switch verb {
	case "put":
		ints, body, ok := shape(args, 4, true)
		if !ok {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdPut, Pri: ints[0], Delay: ints[1], TTR: ints[2], Body: body}, nil

	case "use":
		name, ok := nameArg(args, 0)
		if !ok {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdUse, Tube: name}, nil

	case "reserve":
		if len(args) != 0 {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdReserve}, nil

	case "reserve-with-timeout":
		ints, _, ok := shape(args, 1, false)
		if !ok {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdReserveWithTimeout, Seconds: ints[0]}, nil

	case "reserve-job":
		ints, _, ok := shape(args, 1, false)
		if !ok {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdReserveJob, ID: uint64(ints[0])}, nil

	case "delete":
		ints, _, ok := shape(args, 1, false)
		if !ok {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdDelete, ID: uint64(ints[0])}, nil

	case "release":
		ints, _, ok := shape(args, 3, false)
		if !ok {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdRelease, ID: uint64(ints[0]), Pri: ints[1], Delay: ints[2]}, nil

	case "bury":
		ints, _, ok := shape(args, 2, false)
		if !ok {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdBury, ID: uint64(ints[0]), Pri: ints[1]}, nil

	case "touch":
		ints, _, ok := shape(args, 1, false)
		if !ok {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdTouch, ID: uint64(ints[0])}, nil

	case "watch":
		name, ok := nameArg(args, 0)
		if !ok {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdWatch, Tube: name}, nil

	case "ignore":
		name, ok := nameArg(args, 0)
		if !ok {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdIgnore, Tube: name}, nil

	case "peek":
		ints, _, ok := shape(args, 1, false)
		if !ok {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdPeek, ID: uint64(ints[0])}, nil

	case "peek-ready":
		if len(args) != 0 {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdPeekReady}, nil

	case "peek-delayed":
		if len(args) != 0 {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdPeekDelayed}, nil

	case "peek-buried":
		if len(args) != 0 {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdPeekBuried}, nil

	case "kick":
		ints, _, ok := shape(args, 1, false)
		if !ok {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdKick, Bound: ints[0]}, nil

	case "kick-job":
		ints, _, ok := shape(args, 1, false)
		if !ok {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdKickJob, ID: uint64(ints[0])}, nil

	case "stats-job":
		ints, _, ok := shape(args, 1, false)
		if !ok {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdStatsJob, ID: uint64(ints[0])}, nil

	case "stats-tube":
		name, ok := nameArg(args, 0)
		if !ok {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdStatsTube, Tube: name}, nil

	case "stats":
		if len(args) != 0 {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdStats}, nil

	case "list-tubes":
		if len(args) != 0 {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdListTubes}, nil

	case "list-tube-used":
		if len(args) != 0 {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdListTubeUsed}, nil

	case "list-tubes-watched":
		if len(args) != 0 {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdListTubesWatched}, nil

	case "quit":
		if len(args) != 0 {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdQuit}, nil

	case "pause-tube":
		if len(args) != 2 || args[0].Kind != KindName || args[1].Kind != KindInteger {
			return Command{}, ErrBadFormat
		}
		return Command{Kind: CmdPauseTube, Tube: args[0].Name, Delay: args[1].Int}, nil
	}

	return Command{}, ErrBadFormat
}

// nameArg requires args to contain exactly one Name token at index i.
func nameArg(args []Token, i int) (string, bool) {
	if len(args) != 1 || args[i].Kind != KindName {
		return "", false
	}
	return args[i].Name, true
}

// shape requires args to consist of exactly nInts Integer tokens,
// optionally followed by one Bytes token (for put's body).
func shape(args []Token, nInts int, wantBody bool) ([]uint32, []byte, bool) {
	want := nInts
	if wantBody {
		want++
	}
	if len(args) != want {
		return nil, nil, false
	}
	ints := make([]uint32, nInts)
	for i := 0; i < nInts; i++ {
		if args[i].Kind != KindInteger {
			return nil, nil, false
		}
		ints[i] = args[i].Int
	}
	if wantBody {
		if args[nInts].Kind != KindBytes {
			return nil, nil, false
		}
		return ints, args[nInts].Bytes, true
	}
	return ints, nil, true
}
