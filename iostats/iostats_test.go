// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iostats_test

import (
	"testing"
	"time"

	"code.hybscloud.com/xmem/iostats"
)

func TestRecordReadWrite(t *testing.T) {
	s := iostats.New()
	s.Init()
	defer s.Shutdown()

	s.RecordRead(1, 4096, 10*time.Millisecond)
	s.RecordRead(1, 4096, 5*time.Millisecond)
	s.RecordWrite(1, 8192, 20*time.Millisecond)

	dev := s.Device(1)
	if dev.Reads != 2 || dev.ReadBytes != 8192 {
		t.Fatalf("unexpected device stats: %+v", dev)
	}
	if dev.Writes != 1 || dev.WriteBytes != 8192 {
		t.Fatalf("unexpected device stats: %+v", dev)
	}

	proc := s.Process()
	if proc.ParallelReadTime != 15*time.Millisecond {
		t.Fatalf("expected 15ms parallel read time, got %v", proc.ParallelReadTime)
	}
}

func TestScopedTimerDelta(t *testing.T) {
	s := iostats.New()
	s.Init()

	s.RecordRead(1, 100, time.Millisecond)
	timer := iostats.NewScopedTimer(s)
	s.RecordRead(1, 200, 2*time.Millisecond)
	s.RecordWait(true, time.Millisecond)

	delta, err := timer.Delta()
	if err != nil {
		t.Fatalf("Delta: %v", err)
	}
	if delta.ParallelReadTime != 2*time.Millisecond {
		t.Fatalf("expected delta of 2ms, got %v", delta.ParallelReadTime)
	}
	if len(delta.Devices) != 1 || delta.Devices[0].ReadBytes != 200 {
		t.Fatalf("unexpected device delta: %+v", delta.Devices)
	}
}

func TestSubDevicesMismatch(t *testing.T) {
	_, err := iostats.SubDevices(
		[]iostats.DeviceStats{{Device: 1}, {Device: 2}},
		[]iostats.DeviceStats{{Device: 1}},
	)
	if err == nil {
		t.Fatal("expected an error on device-count mismatch")
	}
}
