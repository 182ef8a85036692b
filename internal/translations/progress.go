package translations

import "time"

// Progress holds the checkpoints reported while a job runs.
type Progress struct {
	DirectStart    int
	DirectEnd      int
	BatchSubmitted int
	BatchMax       int
	Reconstructing int
	Completed      int
}

// DefaultProgress returns the standard checkpoints.
func DefaultProgress() Progress {
	return Progress{
		DirectStart:    30,
		DirectEnd:      80,
		BatchSubmitted: 40,
		BatchMax:       70,
		Reconstructing: 80,
		Completed:      100,
	}
}

// Normalize fills zero or inconsistent checkpoints from the defaults.
func (p Progress) Normalize() Progress {
	def := DefaultProgress()
	if p.DirectStart <= 0 {
		p.DirectStart = def.DirectStart
	}
	if p.DirectEnd <= p.DirectStart {
		p.DirectEnd = max(def.DirectEnd, p.DirectStart)
	}
	if p.BatchSubmitted <= 0 {
		p.BatchSubmitted = def.BatchSubmitted
	}
	if p.BatchMax < p.BatchSubmitted {
		p.BatchMax = max(def.BatchMax, p.BatchSubmitted)
	}
	if p.Reconstructing <= 0 {
		p.Reconstructing = def.Reconstructing
	}
	if p.Completed <= 0 || p.Completed > 100 {
		p.Completed = def.Completed
	}
	return p
}

// BatchProgress maps a backend estimate (0-100, nil when unknown) into the
// batch window. The result never drops below prev and stays inside
// [BatchSubmitted, BatchMax].
func (p Progress) BatchProgress(prev int, estimate *int) int {
	next := prev
	if estimate != nil {
		est := min(max(*estimate, 0), 100)
		scaled := p.BatchSubmitted + est*(p.BatchMax-p.BatchSubmitted)/100
		next = max(prev, scaled)
	}
	return min(max(next, p.BatchSubmitted), p.BatchMax)
}

// DirectProgress is the progress after done of total units were translated
// in direct mode.
func (p Progress) DirectProgress(done, total int) int {
	if total <= 0 {
		return p.DirectEnd
	}
	done = min(max(done, 0), total)
	return p.DirectStart + done*(p.DirectEnd-p.DirectStart)/total
}

// ETA estimates completion by extrapolating elapsed time linearly over the
// remaining progress. It returns nil outside 0 < progress < 100.
func ETA(job Job, now time.Time) *time.Time {
	if job.Progress <= 0 || job.Progress >= 100 || job.Status.IsTerminal() {
		return nil
	}
	start := job.CreatedAt
	if job.StartedAt != nil {
		start = *job.StartedAt
	}
	elapsed := now.Sub(start)
	if elapsed <= 0 {
		return nil
	}
	remaining := time.Duration(float64(elapsed) * float64(100-job.Progress) / float64(job.Progress))
	eta := now.Add(remaining)
	return &eta
}
