package amocrm

import "encoding/json"

// Field codes and enum codes of amoCRM's built-in multitext contact fields.
const (
	FieldCodeEmail = "EMAIL"
	FieldCodePhone = "PHONE"
	EnumCodeWork   = "WORK"

	// DefaultLeadName is the title given to every lead this adapter creates.
	DefaultLeadName = "Lead"
)

// Credentials identify the amoCRM OAuth integration. Immutable after startup.
type Credentials struct {
	ClientID          string
	ClientSecret      string
	RedirectURI       string
	AuthorizationCode string
	Subdomain         string
}

// LeadSettings places new leads in the CRM.
type LeadSettings struct {
	ResponsibleUserID int64
	PipelineID        int64
	StatusID          int64
}

// ContactInput is the per-request contact data taken from the query string.
type ContactInput struct {
	Name  string
	Email string
	Phone string
}

// FieldValue is one value of a multitext custom field.
type FieldValue struct {
	EnumCode string `json:"enum_code,omitempty"`
	Value    string `json:"value"`
}

// CustomFieldValue sets a custom field addressed by its field code.
type CustomFieldValue struct {
	FieldCode string       `json:"field_code"`
	Values    []FieldValue `json:"values"`
}

// ContactPayload is the body element for POST /contacts and PATCH /contacts/{id}.
type ContactPayload struct {
	Name               string             `json:"name,omitempty"`
	CustomFieldsValues []CustomFieldValue `json:"custom_fields_values"`
}

// EntityRef references an existing entity by id.
type EntityRef struct {
	ID int64 `json:"id"`
}

// LeadEmbedded links a lead to existing entities.
type LeadEmbedded struct {
	Contacts []EntityRef `json:"contacts"`
}

// LeadPayload is the body element for POST /leads.
type LeadPayload struct {
	Name              string       `json:"name"`
	Price             int          `json:"price"`
	ResponsibleUserID int64        `json:"responsible_user_id"`
	PipelineID        int64        `json:"pipeline_id"`
	StatusID          int64        `json:"status_id"`
	Embedded          LeadEmbedded `json:"_embedded"`
}

// ContactsResponse is the subset of a contacts collection response the adapter reads.
type ContactsResponse struct {
	Embedded struct {
		Contacts []EntityRef `json:"contacts"`
	} `json:"_embedded"`
}

// FirstID returns the id of the first embedded contact, or 0.
func (r *ContactsResponse) FirstID() int64 {
	if r == nil || len(r.Embedded.Contacts) == 0 {
		return 0
	}
	return r.Embedded.Contacts[0].ID
}

// LeadsResponse is the subset of a leads collection response the adapter reads.
type LeadsResponse struct {
	Embedded struct {
		Leads []EntityRef `json:"leads"`
	} `json:"_embedded"`
}

// APIErrorResponse is amoCRM's problem+json error body.
type APIErrorResponse struct {
	Title            string            `json:"title"`
	Type             string            `json:"type"`
	Status           int               `json:"status"`
	Detail           string            `json:"detail"`
	ValidationErrors []ValidationError `json:"validation-errors"`
}

// ValidationError groups the field errors of one element of a batch request.
type ValidationError struct {
	RequestID string       `json:"request_id"`
	Errors    []FieldError `json:"errors"`
}

// FieldError describes a rejected field.
type FieldError struct {
	Code   string `json:"code"`
	Path   string `json:"path"`
	Detail string `json:"detail"`
}

// Outcome tags the result of a contact or lead operation.
type Outcome string

const (
	OutcomeFound         Outcome = "found"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeCreated       Outcome = "created"
	OutcomeUpdated       Outcome = "updated"
	OutcomeAlreadyExists Outcome = "already_exists"
)

// Result is the success value of every Service operation. Body is the
// amoCRM response passed through verbatim; it is "null" for OutcomeNotFound.
type Result struct {
	Outcome   Outcome
	ContactID int64
	LeadID    int64
	Body      json.RawMessage
}

var nullBody = json.RawMessage("null")

// contactPayload builds the name + EMAIL/PHONE (WORK) payload shared by create and update.
func contactPayload(in ContactInput) ContactPayload {
	return ContactPayload{
		Name: in.Name,
		CustomFieldsValues: []CustomFieldValue{
			{
				FieldCode: FieldCodeEmail,
				Values:    []FieldValue{{EnumCode: EnumCodeWork, Value: in.Email}},
			},
			{
				FieldCode: FieldCodePhone,
				Values:    []FieldValue{{EnumCode: EnumCodeWork, Value: in.Phone}},
			},
		},
	}
}
