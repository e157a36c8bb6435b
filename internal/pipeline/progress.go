package pipeline

import "time"

const totalSteps = 5

// Progress tracks the progress of a run
type Progress struct {
	TotalSteps         int           `json:"total_steps"`
	CompletedSteps     int           `json:"completed_steps"`
	CurrentStep        string        `json:"current_step"`
	PercentComplete    float64       `json:"percent_complete"`
	StartTime          time.Time     `json:"start_time"`
	ElapsedTime        time.Duration `json:"elapsed_time"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`

	PagesProcessed int `json:"pages_processed"`
	TotalPages     int `json:"total_pages"`
	MatchesFound   int `json:"matches_found"`
}

// ProgressCallback is called with a snapshot of the progress
type ProgressCallback func(*Progress)

// AddProgressCallback adds a progress callback function. Callbacks may be
// invoked from worker goroutines but never concurrently.
func (p *Processor) AddProgressCallback(callback ProgressCallback) {
	p.progressMutex.Lock()
	defer p.progressMutex.Unlock()
	p.progressCallbacks = append(p.progressCallbacks, callback)
}

func (p *Processor) initializeProgress(pages int) {
	p.progressMutex.Lock()
	defer p.progressMutex.Unlock()

	p.currentProgress = &Progress{
		TotalSteps: totalSteps,
		StartTime:  time.Now(),
		TotalPages: pages,
	}
}

func (p *Processor) updateProgress(step string, completed int) {
	p.progressMutex.Lock()
	defer p.progressMutex.Unlock()

	pr := p.currentProgress
	pr.CurrentStep = step
	pr.CompletedSteps = completed
	pr.ElapsedTime = time.Since(pr.StartTime)
	pr.PercentComplete = float64(completed) / float64(pr.TotalSteps) * 100

	if completed > 0 && completed < pr.TotalSteps {
		avgTimePerStep := pr.ElapsedTime / time.Duration(completed)
		pr.EstimatedRemaining = avgTimePerStep * time.Duration(pr.TotalSteps-completed)
	} else {
		pr.EstimatedRemaining = 0
	}
	p.notify()
}

func (p *Processor) reportPages(done, total int) {
	p.progressMutex.Lock()
	defer p.progressMutex.Unlock()

	p.currentProgress.PagesProcessed = done
	p.currentProgress.TotalPages = total
	p.notify()
}

func (p *Processor) setMatches(n int) {
	p.progressMutex.Lock()
	defer p.progressMutex.Unlock()
	p.currentProgress.MatchesFound = n
}

// notify must be called with progressMutex held
func (p *Processor) notify() {
	snapshot := *p.currentProgress
	for _, callback := range p.progressCallbacks {
		callback(&snapshot)
	}
}
