package helixlogger // import "github.com/helixhq/helix/backend/services/helixlogger"

import (
	"os"
	"sync"
	"time"

	"github.com/helixhq/helix/backend/services/utils"
	"github.com/logzio/logzio-go"
	"go.uber.org/zap/zapcore"
)

// logzioCore is a custom core that sends output to Logz.io.
type logzioCore struct {
	// enabler decides whether the entry should be logged or not,
	// according to its level.
	enabler zapcore.LevelEnabler
	// encoder is responsible for marshalling the entry to the desired format.
	encoder zapcore.Encoder
	// sender is the client used to send the events to Logz.io.
	sender *logzio.LogzioSender
	// senderLock is a lock for the queue used by Logz.io.
	senderLock *sync.Mutex
}

// newLogzioCore initializes the Logz.io sender and necessary fields.
func newLogzioCore(encoder zapcore.Encoder, levelEnab zapcore.LevelEnabler) (zapcore.Core, error) {
	logzioShippingToken := os.Getenv("LOGZIO_SHIPPING_TOKEN")
	if logzioShippingToken == "" {
		return nil, utils.MakeError("LOGZIO_SHIPPING_TOKEN is uninitialized")
	}

	sender, err := logzio.New(
		logzioShippingToken,
		logzio.SetUrl("https://listener.logz.io:8071"),
		logzio.SetDrainDuration(time.Second*3),
		logzio.SetCheckDiskSpace(false),
	)
	if err != nil {
		return nil, utils.MakeError("couldn't initialize the Logz.io sender: %s", err)
	}

	lc := &logzioCore{}
	lc.encoder = encoder
	lc.enabler = levelEnab
	lc.sender = sender
	lc.senderLock = &sync.Mutex{}

	return lc, nil
}

// Enabled is used to check whether the event should be logged or not,
// depending on its level.
func (lc *logzioCore) Enabled(level zapcore.Level) bool {
	return lc.enabler.Enabled(level)
}

// With adds the fields defined in the configuration to the core.
func (lc *logzioCore) With(fields []zapcore.Field) zapcore.Core {
	core := &logzioCore{
		enabler:    lc.enabler,
		encoder:    lc.encoder.Clone(),
		sender:     lc.sender,
		senderLock: lc.senderLock,
	}

	for i := range fields {
		fields[i].AddTo(core.encoder)
	}

	return core
}

// Check will add the current entry (event) to the core, which in the future
// will send it to Logz.io.
func (lc *logzioCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if lc.Enabled(ent.Level) {
		return ce.AddCore(ent, lc)
	}
	return ce
}

// Write is where the core sends the event payload to Logz.io.
func (lc *logzioCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	// Lock the Logz.io client
	lc.senderLock.Lock()
	defer lc.senderLock.Unlock()

	buf, err := lc.encoder.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}

	err = lc.sender.Send(buf.Bytes())
	buf.Free()
	if err != nil {
		return utils.MakeError("couldn't send payload to Logz.io: %s", err)
	}

	if ent.Level > zapcore.ErrorLevel {
		// Since we may be crashing the program, sync the output.
		return lc.Sync()
	}
	return nil
}

// Sync drains the queue.
func (lc *logzioCore) Sync() error {
	lc.senderLock.Lock()
	defer lc.senderLock.Unlock()

	return lc.sender.Sync()
}
