package profiles

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dlnabridge/dlnabridge/model"
)

type fakeProfileRepo struct {
	profiles model.DeviceProfiles
	err      error
	calls    int
}

func (r *fakeProfileRepo) Get(string) (*model.DeviceProfile, error) { return nil, nil }

func (r *fakeProfileRepo) GetAll() (model.DeviceProfiles, error) {
	r.calls++
	return r.profiles, r.err
}

func (r *fakeProfileRepo) Put(*model.DeviceProfile) error { return nil }
func (r *fakeProfileRepo) Delete(string) error            { return nil }
func (r *fakeProfileRepo) CountAll() (int64, error)       { return int64(len(r.profiles)), nil }

var _ model.DeviceProfileRepository = (*fakeProfileRepo)(nil)

var _ = Describe("DetectVendor", func() {
	DescribeTable("classifies renderer user-agents",
		func(userAgent string, expected Vendor) {
			Expect(DetectVendor(userAgent)).To(Equal(expected))
		},
		Entry("Samsung TV", "SEC_HHP_[TV] Samsung Q80/1.0 UPnP/1.0", VendorSamsung),
		Entry("Tizen", "Mozilla/5.0 (SMART-TV; Linux; Tizen 5.5)", VendorSamsung),
		Entry("LG webOS", "Linux/4.4 webOS/5.0 UPnP/1.0", VendorLG),
		Entry("LG Electronics", "LG Electronics/DLNADOC/1.50", VendorLG),
		Entry("Xbox", "Xbox/2.0 UPnP/1.0 Xbox-Systemos", VendorXbox),
		Entry("VLC", "VLC/3.0.18 LibVLC/3.0.18", VendorVLC),
		Entry("unknown", "SomeRandomRenderer/1.0", VendorGeneric),
		Entry("empty", "", VendorGeneric),
	)

	It("names vendors for logging", func() {
		Expect(VendorSamsung.String()).To(Equal("samsung"))
		Expect(VendorGeneric.String()).To(Equal("generic"))
	})
})

var _ = Describe("Matcher", func() {
	var repo *fakeProfileRepo
	var matcher *Matcher
	ctx := context.Background()

	samsung := model.DeviceProfile{ID: "p-samsung", Name: "Samsung TV", UserAgentMatch: "samsung", Enabled: true}
	lgByMaker := model.DeviceProfile{ID: "p-lg", Name: "LG TV", Manufacturer: "LG Electronics", Enabled: true}
	fallback := model.DeviceProfile{ID: "p-default", Name: "Default", UserAgentMatch: WildcardMatch, Enabled: true}

	BeforeEach(func() {
		repo = &fakeProfileRepo{profiles: model.DeviceProfiles{samsung, lgByMaker, fallback}}
		matcher = NewMatcher(repo)
	})

	It("matches by user-agent substring, case-insensitively", func() {
		p := matcher.Match(ctx, "SEC_HHP_[TV] SAMSUNG Q80/1.0", "", "")
		Expect(p.ID).To(Equal("p-samsung"))
	})

	It("matches by manufacturer when the user-agent says nothing", func() {
		p := matcher.Match(ctx, "Linux/4.4 UPnP/1.0", "lg electronics", "")
		Expect(p.ID).To(Equal("p-lg"))
	})

	It("matches by model name", func() {
		repo.profiles = model.DeviceProfiles{
			{ID: "p-model", Name: "By model", ModelName: "OLED55", Enabled: true},
			fallback,
		}
		matcher = NewMatcher(repo)
		p := matcher.Match(ctx, "", "", "oled55")
		Expect(p.ID).To(Equal("p-model"))
	})

	It("falls through to the wildcard profile", func() {
		p := matcher.Match(ctx, "SomethingElse/1.0", "", "")
		Expect(p.ID).To(Equal("p-default"))
	})

	It("never matches the wildcard profile by substring", func() {
		repo.profiles = model.DeviceProfiles{fallback, samsung}
		matcher = NewMatcher(repo)
		p := matcher.Match(ctx, "Samsung AllShare/1.0", "", "")
		Expect(p.ID).To(Equal("p-samsung"))
	})

	It("builds a fallback when the store is empty", func() {
		repo.profiles = nil
		matcher = NewMatcher(repo)
		p := matcher.Match(ctx, "anything", "", "")
		Expect(p.UserAgentMatch).To(Equal(WildcardMatch))
		Expect(p.MaxStreamingBitrate).To(BeNumerically(">", 0))
		Expect(p.DirectPlay).ToNot(BeEmpty())
	})

	It("serves repeated lookups from the cache", func() {
		matcher.Match(ctx, "samsung", "", "")
		matcher.Match(ctx, "samsung", "", "")
		Expect(repo.calls).To(Equal(1))
	})

	It("reloads after invalidation", func() {
		matcher.Match(ctx, "samsung", "", "")
		matcher.Invalidate()
		matcher.Match(ctx, "samsung", "", "")
		Expect(repo.calls).To(Equal(2))
	})

	It("survives a repository failure", func() {
		repo.err = errors.New("db is down")
		repo.profiles = nil
		matcher = NewMatcher(repo)
		p := matcher.Match(ctx, "anything", "", "")
		Expect(p.UserAgentMatch).To(Equal(WildcardMatch))
	})
})

func TestProfiles(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Profiles Suite")
}
