package telegram

const (
	textHelp = "Send up to %d photos and a text prompt, and I will generate an image for %d ⭐.\n\n" +
		"/generate - start a new request\n" +
		"/balance - prepaid generations left\n" +
		"/buy - buy a generation package\n" +
		"/status - your requests in the queue\n" +
		"/cancel - drop the photos sent so far\n" +
		"/paysupport - payment problems and refunds"
	textGenerate           = "Send up to %d photos, then the prompt as a text message."
	textCancelled          = "Request cancelled."
	textImageAdded         = "Photo %d/%d received. Add more or send the prompt."
	textTooManyImages      = "At most %d photos per request. Send the prompt to continue."
	textTestMode           = "Test mode: generating without payment."
	textPaidFromBalance    = "One prepaid generation used, %d left."
	textQueued             = "Your request is #%d in the queue."
	textProcessing         = "Your request is being processed."
	textBalance            = "You have %d prepaid generations."
	textInvoiceTitle       = "Image generation"
	textInvoiceDescription = "One image generated from your prompt and photos."
	textInvoiceLabel       = "Generation"
	textPackageOffer       = "Or buy a package and save:"
	textBuy                = "Choose a package:"
	textPackageTitle       = "%d image generations"
	textPackageDescription = "%d prepaid image generations."
	textPackageAdded       = "%d generations added. Balance: %d."
	textPackageExpired     = "%d generations added, but the request expired. Balance: %d."
	textUnknownPackage     = "This package is no longer available."
	textStatusEmpty        = "You have no requests in the queue."
	textStatusPending      = "#%d in the queue"
	textStatusRunning      = "generating now"
	textPaySupport         = "If a generation failed and the refund did not arrive, reply with the payment id " +
		"below and the administrator will check it."
	textNoPayments  = "No payments found."
	textDenied      = "Command not allowed: %s."
	textUsage       = "Usage: %s"
	textPaused      = "Generation queue paused."
	textResumed     = "Generation queue resumed."
	textQueueStats  = "Queue: %d pending, %d processing, %d completed, %d failed, %d running. Paused: %t."
	textRefundDone  = "Refunded %s."
	textRefundAgain = "%s was already refunded."
	textGranted     = "User %d now has %d generations."
	textUnknown     = "Unknown command. Send /help for the list."
)
