package usecase

// ProgressFunc is called after each item of a batch job completes.
type ProgressFunc func(done, total int, item string)

func (f ProgressFunc) report(done, total int, item string) {
	if f != nil {
		f(done, total, item)
	}
}
