package a2a

import "encoding/json"

// ValidateRequest checks the JSON-RPC envelope shape: version, method and
// presence of an id.
func ValidateRequest(req *Request) *Error {
	if req == nil {
		return ErrInvalidRequest("empty request")
	}
	if req.JSONRPC != JSONRPCVersion {
		return ErrInvalidRequest("invalid jsonrpc version: %q", req.JSONRPC)
	}
	if req.Method == "" {
		return ErrInvalidRequest("method is required")
	}
	if req.ID == nil {
		return ErrInvalidRequest("id is required")
	}
	switch req.ID.(type) {
	case string, float64, int, int64, json.Number:
	default:
		return ErrInvalidRequest("id must be a string or number")
	}
	return nil
}

// ValidateMessage checks message well-formedness: a valid role, at least one
// part, and each part recognized and internally consistent.
func ValidateMessage(m *Message) *Error {
	if m == nil {
		return ErrInvalidParams("message is required")
	}
	if m.Role != MessageRoleUser && m.Role != MessageRoleAgent {
		return ErrInvalidParams("invalid message role: %q", m.Role)
	}
	if len(m.Parts) == 0 {
		return ErrInvalidParams("message must have at least one part")
	}
	for i, p := range m.Parts {
		if err := validatePart(i, p); err != nil {
			return err
		}
	}
	return nil
}

func validatePart(i int, p Part) *Error {
	switch p.Kind {
	case PartKindText:
		if p.Text == "" {
			return ErrInvalidParams("part %d: text part has no text", i)
		}
	case PartKindFile:
		if p.File == nil || (len(p.File.Bytes) == 0 && p.File.URI == "") {
			return ErrInvalidParams("part %d: file part needs bytes or uri", i)
		}
	case PartKindData:
		if p.Data == nil {
			return ErrInvalidParams("part %d: data part has no data", i)
		}
	default:
		return ErrInvalidParams("part %d: unrecognized part kind: %q", i, p.Kind)
	}
	return nil
}
