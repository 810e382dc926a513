package handlers

// publicEmailDomains are free webmail providers
var publicEmailDomains = domainSet(
	"aol.com",
	"att.net",
	"comcast.net",
	"gmail.com",
	"gmx.com",
	"gmx.de",
	"gmx.net",
	"googlemail.com",
	"hotmail.co.uk",
	"hotmail.com",
	"hotmail.fr",
	"icloud.com",
	"live.com",
	"mac.com",
	"mail.com",
	"mail.ru",
	"me.com",
	"msn.com",
	"outlook.com",
	"proton.me",
	"protonmail.com",
	"qq.com",
	"rediffmail.com",
	"sbcglobal.net",
	"verizon.net",
	"web.de",
	"yahoo.co.uk",
	"yahoo.com",
	"yahoo.fr",
	"yandex.com",
	"yandex.ru",
	"zoho.com",
)

// burnerEmailDomains are disposable inbox services
var burnerEmailDomains = domainSet(
	"10minutemail.com",
	"discard.email",
	"dispostable.com",
	"getnada.com",
	"guerrillamail.com",
	"guerrillamail.net",
	"mailinator.com",
	"maildrop.cc",
	"mintemail.com",
	"mohmal.com",
	"sharklasers.com",
	"temp-mail.org",
	"tempmail.com",
	"throwawaymail.com",
	"trashmail.com",
	"yopmail.com",
)

func domainSet(domains ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[d] = struct{}{}
	}
	return set
}
