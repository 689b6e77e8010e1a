package plugins

import (
	"os"
	"testing"

	"github.com/arkanite/keeper/cache"
	"github.com/sirupsen/logrus"
)

func TestMain(m *testing.M) {
	log := logrus.New()
	log.Out = os.Stderr
	cache.SetLogger(log)

	os.Exit(m.Run())
}
