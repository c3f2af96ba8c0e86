// SPDX-License-Identifier: MIT
package tui

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectrogram/internal/audio"
)

var testDevices = []audio.Device{
	{ID: 0, Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 48000},
	{ID: 1, Name: "USB Mic", MaxInputChannels: 1, DefaultSampleRate: 16000},
	{ID: 2, Name: "Interface", MaxInputChannels: 2, MaxOutputChannels: 2, DefaultSampleRate: 96000},
}

func fetchTestDevices() ([]audio.Device, error) { return testDevices, nil }

var (
	keyDown  = tea.KeyMsg{Type: tea.KeyDown}
	keyUp    = tea.KeyMsg{Type: tea.KeyUp}
	keyEnter = tea.KeyMsg{Type: tea.KeyEnter}
	keyEsc   = tea.KeyMsg{Type: tea.KeyEsc}
	keyQuit  = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
)

func send(t *testing.T, m PickerModel, msgs ...tea.Msg) (PickerModel, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, msg := range msgs {
		var next tea.Model
		next, cmd = m.Update(msg)
		m = next.(PickerModel)
	}
	return m, cmd
}

func started(t *testing.T, preferred int) PickerModel {
	t.Helper()
	m := NewPickerModel(fetchTestDevices, preferred)
	msg := m.Init()()
	m, _ = send(t, m, tea.WindowSizeMsg{Width: 80, Height: 40}, msg)
	return m
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestPickerListsInputDevicesOnly(t *testing.T) {
	m := started(t, 0)
	require.Len(t, m.devices, 2)
	assert.Contains(t, m.View(), "USB Mic")
	assert.NotContains(t, m.View(), "Speakers")
}

func TestPickerSelectsDeviceAndRate(t *testing.T) {
	m := started(t, 0)

	// Second input device, its 96 kHz default is not allowed so the first
	// allowed rate is preselected.
	m, _ = send(t, m, keyDown, keyEnter)
	assert.Equal(t, ConfigScreen, m.activeScreen)
	assert.Equal(t, 0, m.sampleRateIndex)

	m, cmd := send(t, m, keyDown, keyDown, keyEnter)
	require.True(t, isQuit(cmd))

	sel, ok := m.Selection()
	require.True(t, ok)
	assert.Equal(t, Selection{DeviceID: 2, SampleRate: 22050}, sel)
}

func TestPickerPrefersConfiguredRate(t *testing.T) {
	m := started(t, 44100)
	m, _ = send(t, m, keyEnter)
	assert.Equal(t, 3, m.sampleRateIndex)

	m = started(t, 12345)
	m, _ = send(t, m, keyEnter)
	assert.Equal(t, 1, m.sampleRateIndex, "device default 16000 Hz")
}

func TestPickerNavigationBounds(t *testing.T) {
	m := started(t, 0)
	m, _ = send(t, m, keyUp, keyDown, keyDown, keyDown)
	assert.Equal(t, 1, m.selectedIndex)

	m, _ = send(t, m, keyEnter, keyEsc)
	assert.Equal(t, ListScreen, m.activeScreen)
}

func TestPickerQuitWithoutChoice(t *testing.T) {
	m := started(t, 0)
	m, cmd := send(t, m, keyQuit)
	assert.True(t, isQuit(cmd))

	_, ok := m.Selection()
	assert.False(t, ok)
}

func TestPickerFetchError(t *testing.T) {
	m := NewPickerModel(func() ([]audio.Device, error) { return nil, errors.New("no host") }, 0)
	m, _ = send(t, m, tea.WindowSizeMsg{Width: 80, Height: 40}, m.Init()())
	assert.Contains(t, m.View(), "no host")

	_, cmd := send(t, m, keyEnter)
	assert.True(t, isQuit(cmd))
}
