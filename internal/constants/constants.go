package constants

import "time"

const (
	XPPerWin  = 30
	XPPerLoss = 30
	XPMax     = 99
)

const (
	DispatchTimeout = 10 * time.Second
	RequestTimeout  = 30 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	FeedBatchSize    = 100
	QueueListLimit   = 50
	HistoryIDLength  = 21
	DMFanoutParallel = 4
)
