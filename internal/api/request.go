package api

import "github.com/Checker-Finance/amocrm-adapter/internal/amocrm"

// ContactInfo is what the request guard hands to the handlers.
type ContactInfo struct {
	Email string
	Phone string
}

// ContactQuery binds the query parameters of the /amo-crm endpoints.
type ContactQuery struct {
	Name  string `query:"name"`
	Email string `query:"email"`
	Phone string `query:"phone"`
}

func (q ContactQuery) toInput() amocrm.ContactInput {
	return amocrm.ContactInput{Name: q.Name, Email: q.Email, Phone: q.Phone}
}
