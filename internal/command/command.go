package command

// Kind identifies a control command (the "RC code")
type Kind int

const (
	None Kind = iota
	Load
	Next
	Prev
	Stop
	PauseToggle
	Quit
	Error
	TuneEnd
	ChangeVolume
	AddFiles
	ClearPlaylist
	DeleteEntry
	UniqPlaylist
	RefinePlaylist
	Jump
	RotatePlaylist
	ApplySettings
)

var kindNames = map[Kind]string{
	None:           "NONE",
	Load:           "LOAD",
	Next:           "NEXT",
	Prev:           "PREV",
	Stop:           "STOP",
	PauseToggle:    "PAUSE_TOGGLE",
	Quit:           "QUIT",
	Error:          "ERROR",
	TuneEnd:        "TUNE_END",
	ChangeVolume:   "CHANGE_VOLUME",
	AddFiles:       "ADD_FILES",
	ClearPlaylist:  "CLEAR_PLAYLIST",
	DeleteEntry:    "DELETE_ENTRY",
	UniqPlaylist:   "UNIQ_PLAYLIST",
	RefinePlaylist: "REFINE_PLAYLIST",
	Jump:           "JUMP",
	RotatePlaylist: "ROTATE_PLAYLIST",
	ApplySettings:  "APPLY_SETTINGS",
}

// String returns the RC name of the kind
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsPriority reports whether enqueuing this kind preempts everything pending
func (k Kind) IsPriority() bool {
	return k == Quit || k == Stop
}

// IsTransport reports whether the kind changes what the engine is playing.
// An engine that receives one of these while a track is loaded must stop
// the track and hand the command back to the loop.
func (k Kind) IsTransport() bool {
	switch k {
	case Load, Next, Prev, Stop, Quit, Jump, Error, TuneEnd:
		return true
	default:
		return false
	}
}

// AddFiles flags carried in Command.Arg
const (
	// SelectFirst moves the selection to the first entry added by the command
	SelectFirst = 1 << iota
)

// Command is a queued control request.
// Ownership of Paths passes to whoever pops the command.
type Command struct {
	Kind  Kind
	Index int      // entry index for Jump, DeleteEntry and RotatePlaylist (cursor)
	Arg   int      // rotate direction, volume delta or AddFiles flags
	Paths []string // files for AddFiles
}

// New creates a command with no payload
func New(kind Kind) Command {
	return Command{Kind: kind}
}

// Files creates an AddFiles command
func Files(paths []string, flags int) Command {
	return Command{Kind: AddFiles, Paths: paths, Arg: flags}
}

// At creates a command addressing a playlist index
func At(kind Kind, index int) Command {
	return Command{Kind: kind, Index: index}
}

// Rotate creates a RotatePlaylist command. A negative cursor means the
// currently selected entry.
func Rotate(cursor, dir int) Command {
	return Command{Kind: RotatePlaylist, Index: cursor, Arg: dir}
}

// Volume creates a ChangeVolume command with a relative delta in percent
func Volume(delta int) Command {
	return Command{Kind: ChangeVolume, Arg: delta}
}
