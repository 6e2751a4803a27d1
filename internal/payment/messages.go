package payment

import (
	"golang.org/x/text/language"
)

var supportedLanguages = []language.Tag{language.English, language.Arabic}

var matcher = language.NewMatcher(supportedLanguages)

var messages = map[string]map[string]string{
	"en": {
		CodeValidation:        "The order details are incomplete or invalid.",
		CodeConversion:        "We could not convert the order amount to the payment currency. Please try again later.",
		CodeGatewayAuth:       "The payment service is temporarily unavailable.",
		CodeGatewayRequest:    "The payment provider rejected the request.",
		CodeLocalOrderMissing: "We could not find an order for this payment.",
		CodeOrderNotFound:     "Order not found.",
		CodeNotYetKnown:       "The order is still being created. Please retry shortly.",
		CodeNotPayable:        "This order can no longer be paid.",
		CodeNotRefundable:     "This order has no completed payment to refund.",
		CodeInvalidSignature:  "Invalid webhook signature.",
		CodeInvalidEvent:      "Invalid webhook event.",
		CodePaymentFailed:     "The payment could not be completed.",
		CodeInternal:          "Something went wrong. Please try again.",

		"INSTRUMENT_DECLINED":   "Your payment method was declined. Please choose another one.",
		"ORDER_NOT_APPROVED":    "The payment was not approved yet. Please complete the approval with PayPal.",
		"PAYER_ACTION_REQUIRED": "Additional action is required in PayPal to complete the payment.",
		"TRANSACTION_REFUSED":   "The transaction was refused by PayPal.",
		"COMPLIANCE_VIOLATION":  "The payment is on hold for a compliance review.",
		"ORDER_EXPIRED":         "The payment session expired. Please place the order again.",
		"CAPTURE_DECLINED":      "The payment was declined.",
		"RESOURCE_NOT_FOUND":    "The payment was not found at PayPal.",
		CodeCheckoutFailed:      "The checkout could not be completed.",
		CodeOrphaned:            "The checkout was abandoned.",
	},
	"ar": {
		CodeValidation:        "بيانات الطلب غير مكتملة أو غير صحيحة.",
		CodeConversion:        "تعذر تحويل مبلغ الطلب إلى عملة الدفع. يرجى المحاولة لاحقاً.",
		CodeGatewayAuth:       "خدمة الدفع غير متاحة مؤقتاً.",
		CodeGatewayRequest:    "رفض مزود الدفع الطلب.",
		CodeLocalOrderMissing: "لم نتمكن من العثور على طلب لهذه الدفعة.",
		CodeOrderNotFound:     "الطلب غير موجود.",
		CodeNotYetKnown:       "لا يزال الطلب قيد الإنشاء. يرجى إعادة المحاولة بعد قليل.",
		CodeNotPayable:        "لم يعد بالإمكان دفع هذا الطلب.",
		CodeNotRefundable:     "لا توجد دفعة مكتملة لاستردادها لهذا الطلب.",
		CodeInvalidSignature:  "توقيع الإشعار غير صالح.",
		CodeInvalidEvent:      "حدث الإشعار غير صالح.",
		CodePaymentFailed:     "تعذر إتمام عملية الدفع.",
		CodeInternal:          "حدث خطأ ما. يرجى المحاولة مرة أخرى.",

		"INSTRUMENT_DECLINED":   "تم رفض وسيلة الدفع. يرجى اختيار وسيلة أخرى.",
		"ORDER_NOT_APPROVED":    "لم تتم الموافقة على الدفع بعد. يرجى إكمال الموافقة عبر PayPal.",
		"PAYER_ACTION_REQUIRED": "مطلوب إجراء إضافي في PayPal لإتمام الدفع.",
		"TRANSACTION_REFUSED":   "رفضت PayPal هذه العملية.",
		"COMPLIANCE_VIOLATION":  "الدفعة معلقة لمراجعة الامتثال.",
		"ORDER_EXPIRED":         "انتهت صلاحية جلسة الدفع. يرجى تقديم الطلب مرة أخرى.",
		"CAPTURE_DECLINED":      "تم رفض الدفعة.",
		"RESOURCE_NOT_FOUND":    "لم يتم العثور على الدفعة لدى PayPal.",
		CodeCheckoutFailed:      "تعذر إتمام عملية الشراء.",
		CodeOrphaned:            "تم التخلي عن عملية الشراء.",
	},
}

// Language picks the response language from an Accept-Language header.
func Language(acceptLanguage string) string {
	tag, _ := language.MatchStrings(matcher, acceptLanguage)
	base, _ := tag.Base()
	if base.String() == "ar" {
		return "ar"
	}
	return "en"
}

// Message returns the localized text for code, falling back to English and then
// to the generic payment failure text.
func Message(lang, code string) string {
	if m, ok := messages[lang][code]; ok {
		return m
	}
	if m, ok := messages["en"][code]; ok {
		return m
	}
	if m, ok := messages[lang][CodePaymentFailed]; ok {
		return m
	}
	return messages["en"][CodePaymentFailed]
}
