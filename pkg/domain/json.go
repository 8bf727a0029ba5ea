package domain

// Text marshalling so the typed ids round-trip as UUID strings in JSON
// payloads and stored result blobs.

func (id IndividualID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id HouseholdID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id ImportID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id ProgramID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id TicketID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }

func (id *IndividualID) UnmarshalText(b []byte) error {
	parsed, err := ParseIndividualID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *HouseholdID) UnmarshalText(b []byte) error {
	parsed, err := ParseHouseholdID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *ImportID) UnmarshalText(b []byte) error {
	parsed, err := ParseImportID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *ProgramID) UnmarshalText(b []byte) error {
	parsed, err := ParseProgramID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *TicketID) UnmarshalText(b []byte) error {
	parsed, err := ParseTicketID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
