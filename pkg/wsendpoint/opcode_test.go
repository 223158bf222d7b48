package wsendpoint

import "testing"

func TestOpcodeIsControl(t *testing.T) {
	cases := map[Opcode]bool{
		OpcodeContinuation: false,
		OpcodeText:         false,
		OpcodeBinary:       false,
		OpcodeClose:        true,
		OpcodePing:         true,
		OpcodePong:         true,
	}
	for op, want := range cases {
		if got := op.IsControl(); got != want {
			t.Errorf("Opcode(%#x).IsControl() = %v, want %v", byte(op), got, want)
		}
	}
}

func TestOpcodeIsValid(t *testing.T) {
	valid := []Opcode{OpcodeContinuation, OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong}
	for _, op := range valid {
		if !op.IsValid() {
			t.Errorf("Opcode(%#x).IsValid() = false, want true", byte(op))
		}
	}
	invalid := []Opcode{0x3, 0x4, 0x7, 0xB, 0xF}
	for _, op := range invalid {
		if op.IsValid() {
			t.Errorf("Opcode(%#x).IsValid() = true, want false", byte(op))
		}
	}
}

func TestIsValidCloseCode(t *testing.T) {
	valid := []CloseCode{1000, 1001, 1002, 1003, 1007, 1008, 1009, 1010, 1011, 3000, 4000, 4999}
	for _, c := range valid {
		if !isValidCloseCode(c) {
			t.Errorf("isValidCloseCode(%d) = false, want true", c)
		}
	}
	invalid := []CloseCode{0, 999, 1004, 1005, 1006, 1012, 1013, 1014, 1015, 1016, 2999, 5000, 65535}
	for _, c := range invalid {
		if isValidCloseCode(c) {
			t.Errorf("isValidCloseCode(%d) = true, want false", c)
		}
	}
}
