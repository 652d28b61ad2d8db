package bill

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = filepath.Join(GinkgoT().TempDir(), "images")
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should create the directory", func() {
		info, err := os.Stat(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})

	Describe("Save", func() {
		It("should write the file and return its name", func() {
			name, err := storage.Save("scan.jpg", []byte("jpeg"))
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("scan.jpg"))

			content, err := os.ReadFile(filepath.Join(tmpDir, "scan.jpg"))
			Expect(err).NotTo(HaveOccurred())
			Expect(content).To(Equal([]byte("jpeg")))
		})

		It("should refuse names outside the directory", func() {
			_, err := storage.Save("../escape.jpg", []byte("x"))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Get", func() {
		It("should read a saved file", func() {
			_, err := storage.Save("scan.png", []byte("png"))
			Expect(err).NotTo(HaveOccurred())

			data, err := storage.Get("scan.png")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("png")))
		})

		It("should fail for a missing file", func() {
			_, err := storage.Get("missing.jpg")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Delete", func() {
		It("should remove the file", func() {
			_, err := storage.Save("scan.jpg", []byte("jpeg"))
			Expect(err).NotTo(HaveOccurred())

			Expect(storage.Delete("scan.jpg")).To(Succeed())
			_, err = os.Stat(filepath.Join(tmpDir, "scan.jpg"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("should fail for a missing file", func() {
			Expect(storage.Delete("missing.jpg")).NotTo(Succeed())
		})
	})
})
