package pipeline

import "time"

// Status is a point-in-time view of a pipeline for the API.
type Status struct {
	CameraID      string     `json:"camera_id"`
	InputURL      string     `json:"input_url"`
	Backend       string     `json:"backend"`
	State         string     `json:"state"`
	Running       bool       `json:"running"`
	Starts        uint64     `json:"starts"`
	Restarts      uint64     `json:"restarts"`
	Detectors     []string   `json:"detectors"`
	QueueDepth    int        `json:"queue_depth"`
	QueueCapacity int        `json:"queue_capacity"`
	Frames        uint64     `json:"frames"`
	EmptyReads    uint64     `json:"empty_reads"`
	Queued        uint64     `json:"queued"`
	Dropped       uint64     `json:"dropped"`
	RateLimited   uint64     `json:"rate_limited"`
	Sent          uint64     `json:"sent"`
	Failed        uint64     `json:"failed"`
	LastAlarm     *time.Time `json:"last_alarm,omitempty"`
}

// Status returns the current counters and lifecycle state. Restarts is
// filled in by the supervisor.
func (p *Pipeline) Status() Status {
	s := Status{
		CameraID:      p.cfg.ID,
		InputURL:      p.cfg.InputURL,
		Backend:       p.opts.Source.Name(),
		State:         p.State().String(),
		Running:       p.IsRunning(),
		Starts:        p.Starts(),
		Detectors:     make([]string, 0, len(p.detectors)),
		QueueDepth:    p.queue.Len(),
		QueueCapacity: p.queue.Capacity(),
		Frames:        p.frames.Load(),
		EmptyReads:    p.emptyReads.Load(),
		Queued:        p.queued.Load(),
		Dropped:       p.dropped.Load(),
		RateLimited:   p.limited.Load(),
		Sent:          p.sent.Load(),
		Failed:        p.failed.Load(),
	}
	for _, d := range p.detectors {
		s.Detectors = append(s.Detectors, d.Type().String())
	}

	p.lastAlarmMu.RLock()
	if !p.lastAlarm.IsZero() {
		t := p.lastAlarm
		s.LastAlarm = &t
	}
	p.lastAlarmMu.RUnlock()
	return s
}
