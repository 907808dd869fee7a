package discovery_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OxideDevX/prana-rc/internal/testutils"
	"github.com/OxideDevX/prana-rc/pkg/discovery"
	"github.com/OxideDevX/prana-rc/pkg/registry"
	"github.com/OxideDevX/prana-rc/pkg/session"
)

func newScanner(t *testing.T, tr *testutils.FakeTransport) (*discovery.Scanner, *registry.Registry) {
	helper := testutils.NewTestHelper(t)
	reg := registry.New(tr, session.DefaultPolicy(), helper.Logger)
	return discovery.New(tr, reg, discovery.DefaultOptions(), helper.Logger), reg
}

func TestScanner_FiltersPranaDevices(t *testing.T) {
	tr := &testutils.FakeTransport{
		Advertisements: []testutils.FakeAdvertisement{
			{AddrValue: "AA:BB:CC:DD:EE:01", Name: "PRNAQaq Kitchen", RSSIValue: -55},
			{AddrValue: "11:22:33:44:55:66", Name: "SomeHeadphones", RSSIValue: -70},
			{AddrValue: "AA:BB:CC:DD:EE:02", Name: "PRNAQaqBedroom", RSSIValue: -62},
			{AddrValue: "99:88:77:66:55:44", Name: "", RSSIValue: -80},
		},
	}
	scanner, reg := newScanner(t, tr)

	devices, err := scanner.Scan(context.Background(), 0)
	require.NoError(t, err)

	require.Len(t, devices, 2)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", devices[0].Address)
	assert.Equal(t, "Kitchen", devices[0].Name)
	assert.Equal(t, "PRNAQaq Kitchen", devices[0].BTName)
	assert.Equal(t, -55, devices[0].RSSI)
	assert.Equal(t, "Bedroom", devices[1].Name)

	// Registration only: nothing connects during discovery.
	assert.Zero(t, tr.Connects())
	assert.Len(t, reg.List(), 2)
}

func TestScanner_DeduplicatesWithinOneScan(t *testing.T) {
	tr := &testutils.FakeTransport{
		Advertisements: []testutils.FakeAdvertisement{
			{AddrValue: "AA:BB:CC:DD:EE:03", Name: "PRNAQaq Attic", RSSIValue: -60},
			{AddrValue: "AA:BB:CC:DD:EE:03", Name: "PRNAQaq Attic", RSSIValue: -58},
		},
	}
	scanner, _ := newScanner(t, tr)

	devices, err := scanner.Scan(context.Background(), 0)
	require.NoError(t, err)

	require.Len(t, devices, 1)
	assert.Equal(t, -58, devices[0].RSSI, "latest advertisement wins")
}

func TestScanner_ScanFailure(t *testing.T) {
	tr := &testutils.FakeTransport{ScanErr: errors.New("radio down")}
	scanner, reg := newScanner(t, tr)

	// An established session must survive a failed scan untouched.
	s := reg.Get("AA:BB:CC:DD:EE:04")
	require.NoError(t, s.EnsureConnected(context.Background()))

	_, err := scanner.Scan(context.Background(), 0)
	assert.ErrorIs(t, err, discovery.ErrDiscovery)

	assert.Equal(t, 1, tr.OpenConns())
	assert.Equal(t, session.StatusReady, s.Status())
}
