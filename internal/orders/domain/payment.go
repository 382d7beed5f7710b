package domain

import "strings"

// Sentinel payment references that are not issued by a gateway
const (
	CashOnDeliveryReference = "CASH_ON_DELIVERY"
	QRCodePaymentReference  = "QR_CODE_PAYMENT"
)

// PaymentMethod classifies a stored payment reference
type PaymentMethod string

const (
	PaymentMethodNone           PaymentMethod = ""
	PaymentMethodGateway        PaymentMethod = "gateway"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentMethodQRCode         PaymentMethod = "qr_code"
	PaymentMethodOther          PaymentMethod = "other"
)

// GatewayReference tags a provider session id, e.g. STRIPE_cs_test_123
func GatewayReference(provider, sessionID string) string {
	return strings.ToUpper(strings.TrimSpace(provider)) + "_" + strings.TrimSpace(sessionID)
}

// ClassifyPaymentReference tells sentinel references apart from
// provider-tagged ones. Gateway references look like PROVIDER_<session>.
func ClassifyPaymentReference(ref string) PaymentMethod {
	switch {
	case ref == "":
		return PaymentMethodNone
	case ref == CashOnDeliveryReference:
		return PaymentMethodCashOnDelivery
	case ref == QRCodePaymentReference:
		return PaymentMethodQRCode
	}
	prefix, rest, ok := strings.Cut(ref, "_")
	if ok && rest != "" && prefix == strings.ToUpper(prefix) {
		return PaymentMethodGateway
	}
	return PaymentMethodOther
}
