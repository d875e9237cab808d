package conn

import (
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/jobtube/beanstalkd/internal/proto"
	"github.com/jobtube/beanstalkd/internal/store"
)

// idTok renders a job or connection id as a wire field. Ids are not
// passed through proto.Integer because that token is fixed at 32
// bits by the inbound grammar; a Name token carries the same decimal
// text on the wire without that ceiling.
func idTok(id uint64) proto.Token {
	return proto.Name(strconv.FormatUint(id, 10))
}

func countTok(n int) proto.Token {
	return proto.Integer(uint32(n))
}

func jobBody(j *store.Job) []proto.Token {
	return []proto.Token{proto.Name("RESERVED"), idTok(j.ID), countTok(len(j.Body)), proto.CRLF, proto.BytesTok(j.Body), proto.CRLF}
}

func yamlBody(v any) []proto.Token {
	out, err := yaml.Marshal(v)
	if err != nil {
		return []proto.Token{proto.Name("INTERNAL_ERROR")}
	}
	return []proto.Token{countTok(len(out)), proto.CRLF, proto.BytesTok(out), proto.CRLF}
}

// globalStatsDoc and the types below mirror the field names a
// beanstalkd-compatible client expects in the YAML body of `stats`,
// `stats-tube` and `stats-job`.
type globalStatsDoc struct {
	CurrentJobsReady      uint64 `yaml:"current-jobs-ready"`
	CurrentJobsReserved   uint64 `yaml:"current-jobs-reserved"`
	CurrentJobsDelayed    uint64 `yaml:"current-jobs-delayed"`
	CurrentJobsBuried     uint64 `yaml:"current-jobs-buried"`
	CurrentTubes          uint64 `yaml:"current-tubes"`
	TotalJobs             uint64 `yaml:"total-jobs"`
	CmdPut                uint64 `yaml:"cmd-put"`
	CmdPeek               uint64 `yaml:"cmd-peek"`
	CmdPeekReady          uint64 `yaml:"cmd-peek-ready"`
	CmdPeekDelayed        uint64 `yaml:"cmd-peek-delayed"`
	CmdPeekBuried         uint64 `yaml:"cmd-peek-buried"`
	CmdReserve            uint64 `yaml:"cmd-reserve"`
	CmdReserveWithTimeout uint64 `yaml:"cmd-reserve-with-timeout"`
	CmdDelete             uint64 `yaml:"cmd-delete"`
	CmdRelease            uint64 `yaml:"cmd-release"`
	CmdUse                uint64 `yaml:"cmd-use"`
	CmdWatch              uint64 `yaml:"cmd-watch"`
	CmdIgnore             uint64 `yaml:"cmd-ignore"`
	CmdBury               uint64 `yaml:"cmd-bury"`
	CmdKick               uint64 `yaml:"cmd-kick"`
	CmdTouch              uint64 `yaml:"cmd-touch"`
	CmdStats              uint64 `yaml:"cmd-stats"`
	CmdStatsJob           uint64 `yaml:"cmd-stats-job"`
	CmdStatsTube          uint64 `yaml:"cmd-stats-tube"`
	CmdListTubes          uint64 `yaml:"cmd-list-tubes"`
	CmdListTubeUsed       uint64 `yaml:"cmd-list-tube-used"`
	CmdListTubesWatched   uint64 `yaml:"cmd-list-tubes-watched"`
	CmdPauseTube          uint64 `yaml:"cmd-pause-tube"`
	ID                    string `yaml:"id"`
}

type tubeStatsDoc struct {
	Name                string `yaml:"name"`
	CurrentJobsReady    uint64 `yaml:"current-jobs-ready"`
	CurrentJobsReserved uint64 `yaml:"current-jobs-reserved"`
	CurrentJobsDelayed  uint64 `yaml:"current-jobs-delayed"`
	CurrentJobsBuried   uint64 `yaml:"current-jobs-buried"`
	TotalJobs           uint64 `yaml:"total-jobs"`
	Pause               uint64 `yaml:"pause"`
	PauseTimeLeft       uint64 `yaml:"pause-time-left"`
}

type jobStatsDoc struct {
	ID       uint64 `yaml:"id"`
	Tube     string `yaml:"tube"`
	State    string `yaml:"state"`
	Pri      uint32 `yaml:"pri"`
	Age      uint64 `yaml:"age"`
	TTR      uint32 `yaml:"ttr"`
	Reserves uint64 `yaml:"reserves"`
	Timeouts uint64 `yaml:"timeouts"`
	Releases uint64 `yaml:"releases"`
	Buries   uint64 `yaml:"buries"`
	Kicks    uint64 `yaml:"kicks"`
}
