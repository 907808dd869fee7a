package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a suppressed logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// StateFrame builds a well-formed state response frame. mutate can adjust
// field bytes before the frame is returned.
func StateFrame(mutate func([]byte)) []byte {
	data := make([]byte, 43)
	data[0] = 0xBE
	data[1] = 0xEF
	data[2] = 0x05
	data[3] = 0x01
	data[10] = 1  // powered on
	data[26] = 20 // speed 2
	data[28] = 1
	data[30] = 20
	data[32] = 1
	data[34] = 20
	if mutate != nil {
		mutate(data)
	}
	return data
}
