package dump

import (
	"github.com/sirupsen/logrus"
)

// A Notifier is told how a run ended, so the operator can be alerted.
type Notifier interface {
	Done(stats *Stats, err error)
}

// LogNotifier reports through a logrus logger.
type LogNotifier struct {
	Log *logrus.Entry
}

func (n LogNotifier) Done(stats *Stats, err error) {
	if err != nil {
		n.Log.WithError(err).Errorln("Dump failed")
		return
	}
	n.Log.WithFields(logrus.Fields{
		"partitions": len(stats.Partitions),
		"items":      stats.Items,
		"size":       stats.Size,
		"elapsed":    stats.Finished.Sub(stats.Started),
	}).Infoln("Dump completed!")
}
