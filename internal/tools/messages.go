package tools

// User-facing messages, Arabic first.
const (
	msgNotFound       = "لم يتم العثور على السجل المطلوب. / The requested record was not found."
	msgUpstream       = "تعذر إكمال الطلب حالياً، يرجى المحاولة لاحقاً. / The request could not be completed right now, please try again later."
	msgMissingParam   = "معلومة مطلوبة ناقصة: %s / Missing required information: %s"
	msgInvalidParam   = "قيمة غير صالحة للحقل %s / Invalid value for %s"
	msgTicketClosed   = "هذه التذكرة مغلقة بالفعل. / This ticket is already closed."
	msgResumeExists   = "لديك سيرة ذاتية بالفعل، يمكنك تحديثها. / You already have a resume, you can update it instead."
	msgNothingToApply = "لم يتم تحديد أي حقل للتحديث. / No fields were provided to update."
	msgPastDate       = "لا يمكن حجز موعد في تاريخ سابق. / Appointments cannot be booked in the past."
	msgBadStatus      = "لا يمكن تنفيذ العملية على سجل بحالته الحالية. / This action is not allowed for the record's current status."
	msgNoExtractor    = "خدمة استخراج البيانات غير متاحة. / The document extraction service is unavailable."
)
