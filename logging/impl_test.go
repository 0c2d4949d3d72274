package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.viam.com/test"
)

func newBufferLogger(name string, level Level) (Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return newImpl(name, level, true, NewWriterAppender(buf)), buf
}

func TestConsoleOutput(t *testing.T) {
	logger, buf := newBufferLogger("calib", DEBUG)

	logger.Info("detected ", 42, " corners")
	line, err := buf.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	parts := strings.Split(strings.TrimSuffix(line, "\n"), "\t")
	test.That(t, parts, test.ShouldHaveLength, 5)
	test.That(t, parts[1], test.ShouldEqual, "INFO")
	test.That(t, parts[2], test.ShouldEqual, "calib")
	test.That(t, parts[3], test.ShouldStartWith, "logging/impl_test.go:")
	test.That(t, parts[4], test.ShouldEqual, "detected 42 corners")

	logger.Debugw("view", "index", 3, "corners", 42)
	line, err = buf.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	parts = strings.Split(strings.TrimSuffix(line, "\n"), "\t")
	test.That(t, parts, test.ShouldHaveLength, 6)
	test.That(t, parts[1], test.ShouldEqual, "DEBUG")
	test.That(t, parts[5], test.ShouldEqual, `{"index":3,"corners":42}`)
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger("", WARN)

	logger.Debug("hidden")
	logger.Infof("hidden %d", 1)
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	logger.Warnf("shown %d", 2)
	test.That(t, buf.String(), test.ShouldContainSubstring, "shown 2")

	logger.SetLevel(ERROR)
	buf.Reset()
	logger.Warn("hidden")
	test.That(t, buf.Len(), test.ShouldEqual, 0)
	logger.Error("boom")
	test.That(t, buf.String(), test.ShouldContainSubstring, "boom")
}

func TestSublogger(t *testing.T) {
	logger, buf := newBufferLogger("server", INFO)
	sub := logger.Sublogger("calibration")
	sub.Info("hello")
	test.That(t, buf.String(), test.ShouldContainSubstring, "server.calibration")
	test.That(t, sub.GetLevel(), test.ShouldEqual, INFO)

	// Changing the sublogger level does not affect the parent.
	sub.SetLevel(ERROR)
	test.That(t, logger.GetLevel(), test.ShouldEqual, INFO)
}

func TestUnpairedKey(t *testing.T) {
	logger, buf := newBufferLogger("", DEBUG)
	logger.Infow("msg", "lonely")
	test.That(t, buf.String(), test.ShouldContainSubstring, "unpaired log key")
}

func TestObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Infow("calibrated", "fx", 800.0)
	logger.Debug("details")

	test.That(t, logs.Len(), test.ShouldEqual, 2)
	test.That(t, logs.FilterMessage("calibrated").Len(), test.ShouldEqual, 1)
	entry := logs.FilterMessage("calibrated").All()[0]
	test.That(t, entry.ContextMap()["fx"], test.ShouldEqual, 800.0)
}

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{"error", ERROR},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.out)
	}

	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)

	var level Level
	test.That(t, level.UnmarshalJSON([]byte(`"warn"`)), test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, WARN)
	data, err := ERROR.MarshalJSON()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, `"error"`)
}

func TestAtomicLevel(t *testing.T) {
	level := NewAtomicLevelAt(WARN)
	test.That(t, level.Get(), test.ShouldEqual, WARN)

	// copies share the underlying value
	shared := level
	var wg sync.WaitGroup
	for _, l := range []Level{DEBUG, INFO, ERROR} {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			shared.Set(l)
		}()
	}
	wg.Wait()
	test.That(t, level.Get(), test.ShouldBeIn, DEBUG, INFO, ERROR)

	level.Set(DEBUG)
	test.That(t, shared.Get(), test.ShouldEqual, DEBUG)
}

func TestFileAppender(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "intrinsics.log")
	appender, closer := NewFileAppender(fn, 1)
	logger := NewBlankLogger("file")
	logger.AddAppender(appender)
	logger.Infow("calibration done", "views", 4)
	test.That(t, closer.Close(), test.ShouldBeNil)

	data, err := os.ReadFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, "calibration done")
	test.That(t, string(data), test.ShouldContainSubstring, `{"views":4}`)
}
