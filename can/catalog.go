package can

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/squadracorsepolito/acmelib"
)

// LoadDBC returns the messages sent by the nodes of the bus described by a DBC file.
func LoadDBC(path string) ([]*acmelib.Message, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	busName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	bus, err := acmelib.ImportDBCFile(busName, file)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", path, err)
	}

	messages := []*acmelib.Message{}
	for _, nodeInt := range bus.NodeInterfaces() {
		messages = append(messages, nodeInt.SentMessages()...)
	}

	return messages, nil
}

// SyntheticMessages returns count 8 byte messages with IDs from 0 to count-1,
// each made of 8 unsigned 8 bit signals.
func SyntheticMessages(count int) ([]*acmelib.Message, error) {
	sigType, err := acmelib.NewIntegerSignalType("sig_type", 8, false)
	if err != nil {
		return nil, err
	}

	messages := make([]*acmelib.Message, 0, count)
	for i := range count {
		msg := acmelib.NewMessage(fmt.Sprintf("message_%d", i), acmelib.MessageID(i), 8)

		for j := range 8 {
			sig, err := acmelib.NewStandardSignal(fmt.Sprintf("message_%d_signal_%d", i, j), sigType)
			if err != nil {
				return nil, err
			}

			if err := msg.InsertSignal(sig, j*8); err != nil {
				return nil, err
			}
		}

		messages = append(messages, msg)
	}

	return messages, nil
}
