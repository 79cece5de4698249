package tools

import (
	"context"
	"fmt"

	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/store"
)

const serviceCertificates = "certificates"

var certificateTypes = []string{"salary", "employment", "experience", "no_objection"}

func (ts *toolset) getCertificatesTool() *Tool {
	return &Tool{
		Name:        "getCertificates",
		Description: "List certificates issued to the user.",
		Kind:        KindRead,
		Service:     serviceCertificates,
		Execute: func(ctx context.Context, params map[string]any) Result {
			var certs []domain.Certificate
			if err := ts.store.FindByUser(ctx, store.Certificates, stringParam(params, "user_id"), store.Query{}, &certs); err != nil {
				return ts.upstream("getCertificates", err)
			}
			return OK(certs, fmt.Sprintf("%d certificate(s)", len(certs)))
		},
	}
}

func (ts *toolset) createCertificateTool() *Tool {
	return &Tool{
		Name: "createCertificate",
		Description: "Issue a certificate (salary, employment, experience or no_objection) for the user. " +
			"Linked to the given contract, or to the user's active contract when none is given.",
		Parameters: Schema{
			Properties: map[string]Property{
				"certificate_type": {Type: TypeString, Enum: certificateTypes},
				"purpose":          {Type: TypeString, Description: "Who the certificate is addressed to or why it is needed"},
				"contract_id":      {Type: TypeString, Description: "Optional contract id"},
			},
			Required: []string{"certificate_type"},
		},
		Kind:        KindTicketed,
		Service:     serviceCertificates,
		TicketTitle: "Certificate issued",
		Execute:     ts.createCertificate,
	}
}

func (ts *toolset) createCertificate(ctx context.Context, params map[string]any) Result {
	userID := stringParam(params, "user_id")

	contractID := stringParam(params, "contract_id")
	if contractID != "" {
		var contract domain.EmploymentContract
		err := ts.loadOwned(ctx, store.EmploymentContracts, contractID, userID, &contract)
		if res, ok := ts.lookup("createCertificate", err); !ok {
			return res
		}
	} else {
		var active []domain.EmploymentContract
		if err := ts.store.FindByUser(ctx, store.EmploymentContracts, userID, store.Query{
			Where: map[string]any{"status": domain.ContractActive},
			Limit: 1,
		}, &active); err != nil {
			return ts.upstream("createCertificate", err)
		}
		if len(active) > 0 {
			contractID = active[0].ID
		}
	}

	now := ts.now()
	cert := &domain.Certificate{
		UserID:            userID,
		CertificateType:   stringParam(params, "certificate_type"),
		CertificateNumber: referenceNumber("CRT", now),
		Purpose:           stringParam(params, "purpose"),
		ContractID:        contractID,
		Status:            domain.CertificateIssued,
		IssuedAt:          now.UTC(),
	}
	if err := ts.store.Insert(ctx, store.Certificates, cert); err != nil {
		return ts.upstream("createCertificate", err)
	}

	res := OK(cert, fmt.Sprintf("تم إصدار الشهادة رقم %s. / Certificate %s issued.", cert.CertificateNumber, cert.CertificateNumber))
	res.Summary = fmt.Sprintf("%s certificate %s issued", cert.CertificateType, cert.CertificateNumber)
	return res
}
