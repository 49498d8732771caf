package ingestion

import (
	eventmodels "supporterhub/internal/events/models"
	"supporterhub/internal/identity"
	id "supporterhub/pkg/domain"
	dErrors "supporterhub/pkg/domain-errors"
	"supporterhub/pkg/email"
)

const MailchimpClick = "click"

type mailchimpClick struct {
	CampaignID string `json:"campaign_id"`
	ListID     string `json:"list_id"`
	MemberID   string `json:"member_id"`
	Email      string `json:"email"`
	URL        string `json:"url"`
	Timestamp  string `json:"timestamp"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

// MailchimpMapper maps campaign link clicks. Clicks carry no id of their own,
// so the external id is a digest of the fields that make one click unique.
type MailchimpMapper struct{}

func (MailchimpMapper) Source() id.SourceSystem { return id.SourceMailchimp }

func (MailchimpMapper) Map(msg Message) (*Mapped, error) {
	if msg.Type != MailchimpClick {
		return nil, nil
	}
	var click mailchimpClick
	if err := decodeData(msg, &click); err != nil {
		return nil, err
	}
	if click.CampaignID == "" {
		return nil, dErrors.New(dErrors.CodeMalformedMessage, "click: campaign id is required")
	}
	at := parseTime(click.Timestamp)
	address := email.Normalize(click.Email)

	attrs := map[string]string{"campaign_id": click.CampaignID}
	if click.URL != "" {
		attrs["url"] = click.URL
	}
	mapped := &Mapped{
		Signals: identity.Signals{
			Email:  address,
			Name:   joinName(click.FirstName, click.LastName),
			Linked: linked(id.SourceMailchimp, flexID(click.MemberID)),
		},
		Event: eventmodels.Event{
			Source:     id.SourceMailchimp,
			Type:       eventmodels.TypeEmailClick,
			EventTime:  at,
			ExternalID: eventmodels.ClickExternalID(id.SourceMailchimp, click.CampaignID, address, click.URL, at),
			Metadata:   eventmodels.Metadata{Attributes: attrs},
		},
	}
	if click.ListID != "" && click.MemberID != "" {
		mapped.Audience = &Audience{AudienceID: click.ListID, MemberID: click.MemberID}
	}
	return mapped, nil
}
