package pccc

import "fmt"

// DecodeError maps a PCCC one-byte error code to its message, following
// pccc.c's pccc_decode_error exactly: a primary code of 0xF0 means the
// real error is the byte three positions later (the extended-error form);
// any other extended layout isn't defined by the original and is reported
// as a raw unknown code rather than guessed at (spec.md §9 Open Question,
// resolved — see DESIGN.md).
func DecodeError(errorBytes []byte) string {
	if len(errorBytes) == 0 {
		return "no error byte present"
	}
	code := errorBytes[0]
	if code == 0xF0 {
		if len(errorBytes) < 4 {
			return fmt.Sprintf("extended error 0xF0 truncated: need 4 bytes, got %d", len(errorBytes))
		}
		code = errorBytes[3]
	}

	switch code {
	case 0x01:
		return "Error converting block address."
	case 0x02:
		return "Less levels specified in address than minimum for any address."
	case 0x03:
		return "More levels specified in address than system supports."
	case 0x04:
		return "Symbol not found."
	case 0x05:
		return "Symbol is of improper format."
	case 0x06:
		return "Address doesn't point to something usable."
	case 0x07:
		return "File is wrong size."
	case 0x08:
		return "Cannot complete request, situation has changed since the start of the command."
	case 0x09:
		return "File is too large."
	case 0x0A:
		return "Transaction size plus word address is too large."
	case 0x0B:
		return "Access denied, improper privilege."
	case 0x0C:
		return "Condition cannot be generated - resource is not available."
	case 0x0D:
		return "Condition already exists - resource is already available."
	case 0x0E:
		return "Command could not be executed, PCCC decode error."
	case 0x0F:
		return "Requester does not have upload or download access, no privilege."
	case 0x10:
		return "Illegal command or format."
	case 0x20:
		return "Host has a problem and will not communicate."
	case 0x30:
		return "Remote node host is missing, disconnected, or shut down."
	case 0x40:
		return "Host could not complete function due to hardware fault."
	case 0x50:
		return "Addressing problem or memory protect rungs."
	case 0x60:
		return "Function not allowed due to command protection selection."
	case 0x70:
		return "Processor is in Program mode."
	case 0x80:
		return "Compatibility mode file missing or communication zone problem."
	case 0x90:
		return "Remote node cannot buffer command."
	case 0xA0, 0xC0:
		return "Wait ACK, remote buffer full."
	case 0xB0:
		return "Remote node problem due to download."
	default:
		return "Unknown error response."
	}
}
