package dlna

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dlnabridge/dlnabridge/core/profiles"
)

var _ = Describe("SSDP", func() {
	Describe("parseMSearch", func() {
		It("extracts the discovery headers", func() {
			msg := "M-SEARCH * HTTP/1.1\r\n" +
				"HOST: 239.255.255.250:1900\r\n" +
				"MAN: \"ssdp:discover\"\r\n" +
				"MX: 3\r\n" +
				"ST: urn:schemas-upnp-org:device:MediaServer:1\r\n" +
				"USER-AGENT: SEC_HHP_TV/1.0\r\n\r\n"
			req := parseMSearch(msg)
			Expect(req.ST).To(Equal("urn:schemas-upnp-org:device:MediaServer:1"))
			Expect(req.Man).To(Equal("ssdp:discover"))
			Expect(req.MX).To(Equal(3))
			Expect(req.UserAgent).To(Equal("SEC_HHP_TV/1.0"))
		})

		It("defaults MX to 1 when missing or invalid", func() {
			Expect(parseMSearch("M-SEARCH * HTTP/1.1\r\nST: ssdp:all\r\n\r\n").MX).To(Equal(1))
			Expect(parseMSearch("M-SEARCH * HTTP/1.1\r\nMX: junk\r\n\r\n").MX).To(Equal(1))
		})

		It("matches header names case-insensitively", func() {
			req := parseMSearch("M-SEARCH * HTTP/1.1\r\nst: upnp:rootdevice\r\n\r\n")
			Expect(req.ST).To(Equal("upnp:rootdevice"))
		})
	})

	Describe("responseDelay", func() {
		It("answers Xbox immediately", func() {
			Expect(responseDelay(3, profiles.VendorXbox)).To(BeZero())
		})

		It("enforces the Samsung minimum", func() {
			for i := 0; i < 50; i++ {
				Expect(responseDelay(3, profiles.VendorSamsung)).To(BeNumerically(">=", 100*time.Millisecond))
			}
		})

		It("enforces the LG minimum", func() {
			for i := 0; i < 50; i++ {
				Expect(responseDelay(3, profiles.VendorLG)).To(BeNumerically(">=", 200*time.Millisecond))
			}
		})

		It("caps the window regardless of MX", func() {
			for i := 0; i < 50; i++ {
				Expect(responseDelay(120, profiles.VendorGeneric)).To(BeNumerically("<=", maxResponseDelay))
			}
		})
	})

	Describe("response targets and USNs", func() {
		var router *Router

		BeforeEach(func() {
			router = &Router{uuid: "11111111-2222-3333-4444-555555555555", httpPort: 8200}
		})

		It("answers ssdp:all with every notification type", func() {
			Expect(router.responseTargets(ssdpAll)).To(HaveLen(5))
		})

		It("answers its own device and service types", func() {
			for _, st := range []string{"upnp:rootdevice", deviceType, contentDirectoryType, connectionManagerType, "uuid:" + router.uuid} {
				Expect(router.responseTargets(st)).To(Equal([]string{st}))
			}
		})

		It("ignores foreign search targets", func() {
			Expect(router.responseTargets("urn:schemas-upnp-org:device:MediaRenderer:1")).To(BeEmpty())
			Expect(router.responseTargets("uuid:someone-else")).To(BeEmpty())
		})

		It("builds USNs from the device UUID", func() {
			Expect(router.getUSN("uuid:" + router.uuid)).To(Equal("uuid:" + router.uuid))
			Expect(router.getUSN("upnp:rootdevice")).To(Equal("uuid:" + router.uuid + "::upnp:rootdevice"))
			Expect(router.getUSN(deviceType)).To(Equal("uuid:" + router.uuid + "::" + deviceType))
		})
	})

	Describe("bumpBootID", func() {
		It("advances the boot id", func() {
			router := &Router{}
			router.bootID.Store(1)
			router.bumpBootID()
			Expect(router.bootID.Load()).To(Equal(uint32(2)))
		})
	})
})
