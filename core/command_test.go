package core

import (
	"strings"
	"testing"

	"pinmux/protocol"
)

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	var called bool
	handler := func(data *[]byte) error {
		called = true
		return nil
	}

	id := registry.Register("test_command", "arg=%u", handler)
	if id != 0 {
		t.Errorf("Expected first command to have ID 0, got %d", id)
	}

	cmd, ok := registry.GetCommand(id)
	if !ok {
		t.Fatal("Failed to retrieve registered command")
	}
	if cmd.Name != "test_command" {
		t.Errorf("Expected command name 'test_command', got '%s'", cmd.Name)
	}

	var data []byte
	if err := registry.Dispatch(id, &data); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
	if !called {
		t.Error("Command handler was not called")
	}

	if err := registry.Dispatch(999, &data); err != ErrUnknownCommand {
		t.Errorf("Expected ErrUnknownCommand for unknown ID, got %v", err)
	}
}

func TestCommandRegistryMultiple(t *testing.T) {
	registry := NewCommandRegistry()

	id1 := registry.Register("command1", "arg1=%u", func(data *[]byte) error { return nil })
	id2 := registry.Register("command2", "arg2=%u", func(data *[]byte) error { return nil })
	id3 := registry.RegisterResponse("response3", "arg3=%u")

	if id1 != 0 || id2 != 1 || id3 != 2 {
		t.Errorf("Command IDs not sequential: %d, %d, %d", id1, id2, id3)
	}

	if again := registry.Register("command1", "arg1=%u", nil); again != id1 {
		t.Errorf("Re-registering returned %d, expected %d", again, id1)
	}
	if registry.Count() != 3 {
		t.Errorf("Expected 3 entries, got %d", registry.Count())
	}

	var data []byte
	if err := registry.Dispatch(id3, &data); err != ErrUnknownCommand {
		t.Errorf("Dispatching a response should fail, got %v", err)
	}
}

func TestCommandRegistryDictionary(t *testing.T) {
	registry := NewCommandRegistry()

	registry.Register("get_irq_stats", "", func(data *[]byte) error { return nil })
	registry.RegisterResponse("pin_event", "pin=%u")

	expected := "get_irq_stats\npin_event pin=%u\n"
	if dict := registry.GetDictionary(); dict != expected {
		t.Errorf("Dictionary mismatch:\n%s", dict)
	}
}

func TestCommandWithArguments(t *testing.T) {
	registry := NewCommandRegistry()

	var receivedValue uint32
	handler := func(data *[]byte) error {
		val, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		receivedValue = val
		return nil
	}

	id := registry.Register("test_args", "value=%u", handler)

	output := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(output, 12345)
	data := output.Result()

	if err := registry.Dispatch(id, &data); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
	if receivedValue != 12345 {
		t.Errorf("Expected value 12345, got %d", receivedValue)
	}
}

func TestDeclareCommandsOrder(t *testing.T) {
	firmware := NewCommandRegistry()
	DeclareCommands(firmware, map[string]CommandHandler{
		CmdGetIRQStats: func(data *[]byte) error { return nil },
	})
	host := NewCommandRegistry()
	DeclareCommands(host, nil)

	if firmware.GetDictionary() != host.GetDictionary() {
		t.Error("Firmware and host dictionaries differ")
	}
	if firmware.MustID(CmdConfigPWMOut) != 0 {
		t.Errorf("Expected config_pwm_out to be command 0")
	}
	if !strings.HasPrefix(firmware.GetDictionary(), "config_pwm_out oid=%c pin=%u") {
		t.Errorf("Unexpected dictionary start:\n%s", firmware.GetDictionary())
	}

	cmd, _ := host.Lookup(RespPinEvent)
	if !cmd.IsResponse() {
		t.Error("pin_event should be a response")
	}
}

func TestCommandArgCount(t *testing.T) {
	reg := NewCommandRegistry()
	DeclareCommands(reg, nil)

	expected := map[string]int{
		CmdConfigPWMOut:  5,
		CmdFreePWMOut:    1,
		CmdGetIRQStats:   0,
		RespPinEvent:     1,
		RespIRQStats:     4,
		RespPWMState:     5,
		RespCommandError: 2,
	}
	for name, n := range expected {
		cmd, ok := reg.Lookup(name)
		if !ok {
			t.Fatalf("%s not declared", name)
		}
		if got := cmd.ArgCount(); got != n {
			t.Errorf("%s: ArgCount() = %d, expected %d", name, got, n)
		}
	}
}

func TestErrorCodes(t *testing.T) {
	testCases := []struct {
		err  error
		code uint8
	}{
		{ErrChannelInUse, CodeChannelInUse},
		{ErrPinInUse, CodePinInUse},
		{ErrResourceExhausted, CodeResourceExhausted},
		{&HardwareError{Op: "x", Err: ErrClosed}, CodeHardwareConfig},
		{ErrUnknownOutput, CodeUnknownOutput},
		{nil, CodeUnknown},
	}

	for _, tc := range testCases {
		if got := ErrorCode(tc.err); got != tc.code {
			t.Errorf("ErrorCode(%v) = %d, expected %d", tc.err, got, tc.code)
		}
	}

	if CodeError(CodeInvalidArgument) != ErrInvalidArgument {
		t.Error("CodeError did not map back to ErrInvalidArgument")
	}
	if CodeError(200) == nil {
		t.Error("Unknown codes should still produce an error")
	}
}
