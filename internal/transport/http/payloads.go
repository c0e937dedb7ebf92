package httptransport

import (
	"encoding/json"

	"github.com/coronasafe/care-abdm/pkg/domain"
)

// Callback payload shapes are field-exact: the gateway and providers send
// these envelopes and the engine rejects anything that does not parse,
// including timestamps in any format other than the fixed wire format.

type responseRef struct {
	RequestID string `json:"requestId"`
}

type idRef struct {
	ID string `json:"id"`
}

type callbackError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type consentInitCallback struct {
	ConsentRequest *idRef         `json:"consentRequest"`
	Error          *callbackError `json:"error"`
	Response       responseRef    `json:"response"`
}

type consentStatusCallback struct {
	ConsentRequest struct {
		ID               string  `json:"id"`
		Status           string  `json:"status"`
		ConsentArtefacts []idRef `json:"consentArtefacts"`
	} `json:"consentRequest"`
	Response responseRef `json:"response"`
}

type consentNotifyCallback struct {
	Notification struct {
		ConsentRequestID string  `json:"consentRequestId"`
		Status           string  `json:"status"`
		ConsentArtefacts []idRef `json:"consentArtefacts"`
	} `json:"notification"`
}

type consentFetchCallback struct {
	Consent struct {
		Status        string          `json:"status"`
		ConsentDetail json.RawMessage `json:"consentDetail"`
		Signature     string          `json:"signature"`
	} `json:"consent"`
	Response responseRef `json:"response"`
}

// consentDetail is the signed artefact body inside an on-fetch callback.
type consentDetail struct {
	ConsentID string `json:"consentId"`
	Patient   struct {
		ID string `json:"id"`
	} `json:"patient"`
	Purpose struct {
		Code string `json:"code"`
		Text string `json:"text"`
	} `json:"purpose"`
	HiTypes    []string `json:"hiTypes"`
	Permission struct {
		AccessMode string `json:"accessMode"`
		DateRange  struct {
			From domain.WireTime `json:"from"`
			To   domain.WireTime `json:"to"`
		} `json:"dateRange"`
		DataEraseAt domain.WireTime `json:"dataEraseAt"`
		Frequency   struct {
			Unit    string `json:"unit"`
			Value   int    `json:"value"`
			Repeats int    `json:"repeats"`
		} `json:"frequency"`
	} `json:"permission"`
	CareContexts []struct {
		PatientReference     string `json:"patientReference"`
		CareContextReference string `json:"careContextReference"`
	} `json:"careContexts"`
}

type dataFlowAckCallback struct {
	HiRequest *struct {
		TransactionID string `json:"transactionId"`
		SessionStatus string `json:"sessionStatus"`
	} `json:"hiRequest"`
	Error    *callbackError `json:"error"`
	Response responseRef    `json:"response"`
}

type transferPagePayload struct {
	PageNumber    int                `json:"pageNumber"`
	PageCount     int                `json:"pageCount"`
	TransactionID string             `json:"transactionId"`
	Entries       []transferEntry    `json:"entries"`
	KeyMaterial   keyMaterialPayload `json:"keyMaterial"`
}

type transferEntry struct {
	Content              string `json:"content,omitempty"`
	Link                 string `json:"link,omitempty"`
	Media                string `json:"media,omitempty"`
	Checksum             string `json:"checksum,omitempty"`
	CareContextReference string `json:"careContextReference"`
}

type keyMaterialPayload struct {
	CryptoAlg   string `json:"cryptoAlg"`
	Curve       string `json:"curve"`
	DHPublicKey struct {
		Expiry     domain.WireTime `json:"expiry"`
		Parameters string          `json:"parameters,omitempty"`
		KeyValue   string          `json:"keyValue"`
	} `json:"dhPublicKey"`
	Nonce string `json:"nonce"`
}

// Local API shapes. These face the hospital application, not the gateway.

type initiateConsentRequest struct {
	AbhaNumber string   `json:"abhaNumber,omitempty"`
	Patient    string   `json:"patient,omitempty"`
	Purpose    string   `json:"purpose"`
	HiTypes    []string `json:"hiTypes"`
	AccessMode string   `json:"accessMode"`
	DateRange  struct {
		From domain.WireTime `json:"from"`
		To   domain.WireTime `json:"to"`
	} `json:"dateRange"`
	DataEraseAt domain.WireTime `json:"dataEraseAt"`
	Frequency   struct {
		Unit    string `json:"unit"`
		Value   int    `json:"value"`
		Repeats int    `json:"repeats"`
	} `json:"frequency"`
}

type consentRequestView struct {
	ID           string         `json:"id"`
	RemoteID     string         `json:"remoteId,omitempty"`
	Status       string         `json:"status"`
	StatusReason string         `json:"statusReason,omitempty"`
	Artefacts    []artefactView `json:"artefacts,omitempty"`
}

type artefactView struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type requestHealthInformationRequest struct {
	ConsentArtefact string `json:"consentArtefact"`
}

type transferStatusView struct {
	TransactionID string      `json:"transactionId"`
	ArtefactID    string      `json:"artefactId"`
	Status        string      `json:"status"`
	StatusReason  string      `json:"statusReason,omitempty"`
	Record        *recordView `json:"record,omitempty"`
}

type recordView struct {
	Entries     []transferEntry `json:"entries"`
	PageCount   int             `json:"pageCount"`
	CompletedAt domain.WireTime `json:"completedAt"`
}

type auditEventView struct {
	Timestamp domain.WireTime `json:"timestamp"`
	Action    string          `json:"action"`
	Subject   string          `json:"subject"`
	Reason    string          `json:"reason,omitempty"`
}
