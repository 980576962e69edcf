package orphan

type Report struct {
	Removed   int   `json:"removed"`
	Timestamp int64 `json:"timestamp"`
}

// IService reclaims scratch files that outlived their request, e.g. after a
// crash between staging and release.
type IService interface {
	SweepNow() (Report, error)
	Subscribe() (<-chan Report, error)
	Unsubscribe() error
	Finalize()
}
