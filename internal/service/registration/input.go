package registration

import (
	"encoding/json"
	"strings"
)

// Input is an attendee's registration request.
type Input struct {
	FullName       string          `json:"fullName" validate:"required,max=200"`
	Email          string          `json:"email" validate:"required,email,max=254"`
	Phone          string          `json:"phone" validate:"required,max=32"`
	StudentID      string          `json:"studentId" validate:"required,max=64"`
	Gender         string          `json:"gender" validate:"required,max=32"`
	Course         string          `json:"course" validate:"required,max=120"`
	Hosteler       bool            `json:"hosteler"`
	Hostel         string          `json:"hostel" validate:"required_if=Hosteler true,max=120"`
	PaymentDetails json.RawMessage `json:"paymentDetails" swaggertype:"object"`
}

func (in *Input) normalize() {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	in.StudentID = strings.TrimSpace(in.StudentID)
	in.Gender = strings.TrimSpace(in.Gender)
	in.Course = strings.TrimSpace(in.Course)
	in.Hostel = strings.TrimSpace(in.Hostel)
	if !in.Hosteler {
		in.Hostel = ""
	}
}
