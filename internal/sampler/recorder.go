package sampler

// Recorder observes node activity, typically for metrics.
type Recorder interface {
	ReadingTaken(value float64)
	CycleCompleted(mean float64, alarm bool, historyIndex int)
	SendStarted()
	SendCompleted()
	SendFailed()
}

type nopRecorder struct{}

func (nopRecorder) ReadingTaken(float64)              {}
func (nopRecorder) CycleCompleted(float64, bool, int) {}
func (nopRecorder) SendStarted()                      {}
func (nopRecorder) SendCompleted()                    {}
func (nopRecorder) SendFailed()                       {}
